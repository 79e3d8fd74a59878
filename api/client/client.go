package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
)

// Namespace is the rpc namespace the node methods are served under.
const Namespace = "StorageHub"

// NewFishermanNodeRPC creates a new http jsonrpc client.
func NewFishermanNodeRPC(ctx context.Context, addr string, requestHeader http.Header, opts ...jsonrpc.Option) (api.FishermanNode, jsonrpc.ClientCloser, error) {
	var res api.FishermanNodeStruct
	opts = append([]jsonrpc.Option{jsonrpc.WithErrors(api.RPCErrors)}, opts...)
	closer, err := jsonrpc.NewMergeClient(ctx, addr, Namespace,
		[]interface{}{
			&res.Internal,
		},
		requestHeader,
		opts...,
	)

	return &res, closer, err
}

// APIInfo is a parsed "[token:]address" connection string.
type APIInfo struct {
	Addr  string
	Token []byte
}

// ParseApiInfo parses "token:ws://host:port/rpc/v0" or a bare address. A
// token is only split off when the rest of the string carries a scheme.
func ParseApiInfo(s string) APIInfo {
	var tok []byte
	if sp := strings.SplitN(s, ":", 2); len(sp) == 2 && !strings.HasPrefix(sp[1], "//") && strings.Contains(sp[1], "://") {
		tok = []byte(sp[0])
		s = sp[1]
	}

	return APIInfo{
		Addr:  s,
		Token: tok,
	}
}

func (a APIInfo) DialArgs() (string, error) {
	if !strings.Contains(a.Addr, "://") {
		return "", xerrors.Errorf("api address %q has no scheme (expected ws://host:port/rpc/v0)", a.Addr)
	}
	u, err := url.Parse(a.Addr)
	if err != nil {
		return "", xerrors.Errorf("parsing api address %q: %w", a.Addr, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", xerrors.Errorf("unsupported api address scheme %q", u.Scheme)
	}
	return a.Addr, nil
}

func (a APIInfo) AuthHeader() http.Header {
	if len(a.Token) != 0 {
		headers := http.Header{}
		headers.Add("Authorization", "Bearer "+string(a.Token))
		return headers
	}
	return nil
}

// Connect dials the node described by info with a per-request timeout.
func Connect(ctx context.Context, info APIInfo, timeout time.Duration) (api.FishermanNode, jsonrpc.ClientCloser, error) {
	addr, err := info.DialArgs()
	if err != nil {
		return nil, nil, err
	}
	return NewFishermanNodeRPC(ctx, addr, info.AuthHeader(), jsonrpc.WithTimeout(timeout))
}
