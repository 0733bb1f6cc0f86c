package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/netinspect/pkg/bridge"
	"github.com/getmockd/netinspect/pkg/cli/internal/flags"
	"github.com/getmockd/netinspect/pkg/cli/internal/output"
	"github.com/getmockd/netinspect/pkg/config"
	"github.com/getmockd/netinspect/pkg/netevent"
	"github.com/getmockd/netinspect/pkg/wstransport"
)

type tailFlags struct {
	codec     string
	reconnect bool
	bodies    bool
	ackEvery  int
	header    flags.Header
}

func newTailCmd(g *globalFlags) *cobra.Command {
	f := &tailFlags{}
	cmd := &cobra.Command{
		Use:   "tail [URL]",
		Short: "Connect as the observer and print network events",
		Long: `Connect to a running inspector as its observer and print every event as it
arrives. Messages missed while disconnected are requested again on reconnect.`,
		Example: `  # Follow the local inspector
  netinspect tail

  # Pull every response body and print JSON lines
  netinspect tail --bodies --json

  # CBOR frames, custom endpoint
  netinspect tail ws://10.0.0.5:9229/devtools --codec cbor`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := "ws://" + config.DefaultListen + config.DefaultPath
			if len(args) == 1 {
				url = args[0]
			}
			codec, err := bridge.CodecByName(f.codec)
			if err != nil {
				return err
			}

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			log, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			p := newEventPrinter(cmd.OutOrStdout(), g.jsonOutput)
			r := bridge.NewReceiver(nil, p.handle,
				bridge.WithAckEvery(f.ackEvery),
				bridge.WithReceiverCodec(codec),
				bridge.WithReceiverLogger(log.With("component", "receiver")),
			)
			p.decode = r.Decode
			if f.bodies {
				p.request = r.Request
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = wstransport.Dial(ctx, wstransport.ClientConfig{
				URL:           url,
				Header:        http.Header(f.header),
				Binary:        codec.Binary(),
				AutoReconnect: f.reconnect,
				Logger:        log.With("component", "observer"),
			}, r)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.codec, "codec", bridge.CodecJSON, "Wire codec the inspector uses (json, cbor)")
	fl.BoolVar(&f.reconnect, "reconnect", true, "Reconnect with backoff when the connection drops")
	fl.BoolVar(&f.bodies, "bodies", false, "Request each response body when loading finishes")
	fl.IntVar(&f.ackEvery, "ack-every", 1, "Acknowledge after this many messages")
	fl.Var(&f.header, "header", "Extra handshake header, Name: value (repeatable)")
	return cmd
}

// eventPrinter renders bridge messages as text or JSON lines.
type eventPrinter struct {
	w      io.Writer
	asJSON bool

	decode  func(raw bridge.Raw, v any) error
	request func(method string, params any) (int64, error)

	mu      sync.Mutex
	pending map[int64]string // body pull message id -> requestId
}

func newEventPrinter(w io.Writer, asJSON bool) *eventPrinter {
	return &eventPrinter{w: w, asJSON: asJSON, pending: make(map[int64]string)}
}

// jsonEvent is the JSON line form of one message.
type jsonEvent struct {
	ID            int64  `json:"id"`
	Method        string `json:"method,omitempty"`
	Params        any    `json:"params,omitempty"`
	CorrelationID int64  `json:"correlationId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	Result        any    `json:"result,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (p *eventPrinter) handle(m *bridge.Message) {
	var err error
	if m.CorrelationID != 0 {
		err = p.printReply(m)
	} else {
		err = p.printEvent(m)
	}
	if err != nil {
		output.Warn(p.w, "message %d: %v", m.ID, err)
	}

	if p.request != nil && m.Method == netevent.MethodLoadingFinished {
		p.pullBody(m)
	}
}

func (p *eventPrinter) pullBody(m *bridge.Message) {
	var params netevent.LoadingFinishedParams
	if err := p.decode(m.Params, &params); err != nil {
		return
	}
	id, err := p.request(netevent.MethodGetResponseBody, netevent.GetResponseBodyParams{RequestID: params.RequestID})
	if err != nil {
		output.Warn(p.w, "getResponseBody %s: %v", params.RequestID, err)
		return
	}
	p.mu.Lock()
	p.pending[id] = params.RequestID
	p.mu.Unlock()
}

func (p *eventPrinter) takePending(id int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	requestID := p.pending[id]
	delete(p.pending, id)
	return requestID
}

func (p *eventPrinter) printReply(m *bridge.Message) error {
	requestID := p.takePending(m.CorrelationID)
	if p.asJSON {
		ev := jsonEvent{ID: m.ID, Method: m.Method, CorrelationID: m.CorrelationID, RequestID: requestID, Error: m.Error}
		if len(m.Result) > 0 {
			if err := p.decode(m.Result, &ev.Result); err != nil {
				return err
			}
		}
		return output.JSONLine(p.w, ev)
	}

	if m.Error != "" {
		_, err := fmt.Fprintf(p.w, "#%d error    %s %s\n", m.ID, requestID, m.Error)
		return err
	}
	if m.Method != netevent.MethodGetResponseBody {
		_, err := fmt.Fprintf(p.w, "#%d reply    to #%d\n", m.ID, m.CorrelationID)
		return err
	}
	var body netevent.GetResponseBodyResult
	if err := p.decode(m.Result, &body); err != nil {
		return err
	}
	kind := "text"
	if body.Base64Encoded {
		kind = "base64"
	}
	suffix := ""
	if body.WasTruncated {
		suffix = " (truncated)"
	}
	_, err := fmt.Fprintf(p.w, "#%d body     %s %d chars %s%s\n", m.ID, requestID, len(body.Body), kind, suffix)
	return err
}

func (p *eventPrinter) printEvent(m *bridge.Message) error {
	if p.asJSON {
		ev := jsonEvent{ID: m.ID, Method: m.Method}
		if len(m.Params) > 0 {
			if err := p.decode(m.Params, &ev.Params); err != nil {
				return err
			}
		}
		return output.JSONLine(p.w, ev)
	}

	line, err := p.summarize(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.w, "#%d %s\n", m.ID, line)
	return err
}

func (p *eventPrinter) summarize(m *bridge.Message) (string, error) {
	switch m.Method {
	case netevent.MethodRequestWillBeSent:
		var ev netevent.RequestWillBeSentParams
		if err := p.decode(m.Params, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("request  %s %s %s", ev.RequestID, ev.Request.Method, ev.Request.URL), nil
	case netevent.MethodResponseReceived:
		var ev netevent.ResponseReceivedParams
		if err := p.decode(m.Params, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("response %s %d %s", ev.RequestID, ev.Response.Status, ev.Response.MimeType), nil
	case netevent.MethodDataReceived:
		var ev netevent.DataReceivedParams
		if err := p.decode(m.Params, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("data     %s +%d bytes", ev.RequestID, ev.DataLength), nil
	case netevent.MethodLoadingFinished:
		var ev netevent.LoadingFinishedParams
		if err := p.decode(m.Params, &ev); err != nil {
			return "", err
		}
		d := time.Duration(ev.Duration * float64(time.Millisecond)).Round(time.Microsecond)
		return fmt.Sprintf("finished %s %d bytes in %s", ev.RequestID, ev.EncodedDataLength, d), nil
	case netevent.MethodLoadingFailed:
		var ev netevent.LoadingFailedParams
		if err := p.decode(m.Params, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("failed   %s %s", ev.RequestID, ev.ErrorText), nil
	case "":
		return "", errors.New("message without method")
	default:
		return m.Method, nil
	}
}
