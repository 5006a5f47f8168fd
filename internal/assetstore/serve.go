package assetstore

import "github.com/ddm-federation/mahiru-go/internal/ids"

// ConnectionRequest describes a streaming-access request for serve() (§6.4).
// The wire shape and streaming protocol itself are out of scope (§1); this
// type exists only so the contract is expressible in Go.
type ConnectionRequest struct {
	Protocol string
	Params   map[string]string
}

// ConnectionInfo is returned by Serve: the endpoint and token a requester
// would use for an out-of-band streaming connection.
type ConnectionInfo struct {
	Endpoint string
	Token    string
}

// Serve implements the streaming half of the asset-store contract (§6.4).
// Access control mirrors Retrieve: denial and absence are indistinguishable.
// On success it returns a ConnectionInfo with empty Endpoint and Token; no
// streaming endpoint is set up.
func (s *Store) Serve(assetID ids.Identifier, _ ConnectionRequest, requester ids.Identifier) (ConnectionInfo, error) {
	if _, err := s.Retrieve(assetID, requester); err != nil {
		return ConnectionInfo{}, err
	}
	return ConnectionInfo{Endpoint: "", Token: ""}, nil
}
