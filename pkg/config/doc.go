// Package config loads the netinspect configuration.
//
// A configuration file is YAML. ${VAR} and ${VAR:-default} references are
// expanded first, the document is checked against the embedded JSON schema,
// then decoded over Default. NETINSPECT_* environment variables override
// individual fields and Validate checks what the schema cannot:
//
//	listen: 127.0.0.1:9229
//	proxyListen: 127.0.0.1:8888
//	capture:
//	  maxBufferBytes: 10485760
//	  filter:
//	    excludeHosts: ["*.internal"]
//	bridge:
//	  codec: json
//	  maxUnacked: 10000
//
// Without a --config flag, Load looks at NETINSPECT_CONFIG and then for
// netinspect.yaml or netinspect.yml in the working directory.
package config
