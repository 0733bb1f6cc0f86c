// Package inspector assembles a complete capture pipeline from a
// config.Config.
//
// Requests enter through the forward proxy or through the http.RoundTripper
// returned by Transport. The coordinator turns them into Network events on
// the bridge, and the observer receives them over the websocket endpoint:
//
//	in, err := inspector.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	client := in.Client() // captured http.Client
//	return in.Run(ctx)
package inspector
