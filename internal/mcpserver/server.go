// Package mcpserver exposes the ERC-8004 registries as Model Context
// Protocol tools over stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/erc8004/contracts"
	xerrors "BNBChain-AgentKit/internal/errors"
	"BNBChain-AgentKit/internal/web3/provider"
	"BNBChain-AgentKit/pkg/logger"
)

const (
	ServerName    = "erc8004-mcp"
	ServerVersion = "1.0.0"
	ChainsURI     = "erc8004://chains"
)

// ErrPrivateKeyRequired is returned by write tools when no key is set.
var ErrPrivateKeyRequired = xerrors.New(contracts.CodePrivateKeyRequired,
	"PRIVATE_KEY environment variable required for write operations.")

// Server owns the MCP server and the chain connections behind its tools.
type Server struct {
	providers  *provider.Registry
	privateKey string
	log        *slog.Logger
	mcp        *mcp.Server
}

// Option customises New.
type Option func(*Server)

// WithPrivateKey enables the write tools.
func WithPrivateKey(hexKey string) Option {
	return func(s *Server) { s.privateKey = strings.TrimSpace(hexKey) }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New registers every tool and the chains resource.
func New(providers *provider.Registry, opts ...Option) *Server {
	s := &Server{providers: providers, log: logger.Named("mcp")}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: ServerVersion}, nil)
	s.registerIdentityTools()
	s.registerReputationTools()
	s.registerMetadataTools()
	s.registerChainTools()
	s.mcp.AddResource(&mcp.Resource{
		URI:         ChainsURI,
		Name:        "chains",
		Description: "Supported chains and ERC-8004 registry deployments.",
		MIMEType:    "application/json",
	}, s.readChains)
	return s
}

// MCP returns the underlying server, mainly for in-memory transports.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// WriteEnabled reports whether a private key was configured.
func (s *Server) WriteEnabled() bool { return s.privateKey != "" }

// ServeStdio serves a single client on stdin/stdout until ctx ends.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.log.Info("ERC-8004 MCP server running on stdio",
		"chains", strings.Join(s.providers.Chains().Keys(), ", "),
		"write", s.WriteEnabled())
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

func (s *Server) readChains(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(chainTable(s.providers.Chains()), "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: ChainsURI, MIMEType: "application/json", Text: string(data)}},
	}, nil
}

func chainTable(table *chains.Registry) map[string]chains.Chain {
	out := make(map[string]chains.Chain)
	for _, c := range table.All() {
		out[c.Key] = c
	}
	return out
}

func (s *Server) signer() (*contracts.Signer, error) {
	if s.privateKey == "" {
		return nil, ErrPrivateKeyRequired
	}
	return contracts.NewSigner(s.privateKey)
}

// handler adapts fn to an MCP tool: results become indented JSON text and
// failures become "Error: <msg>" tool errors.
func handler[In any](name string, log *slog.Logger, fn func(context.Context, In) (any, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		out, err := fn(ctx, in)
		if err == nil {
			var data []byte
			data, err = json.MarshalIndent(out, "", "  ")
			if err == nil {
				return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
			}
		}
		log.Warn("tool failed", "tool", name, "error", err)
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + xerrors.MessageOf(err)}},
		}, nil, nil
	}
}

func addTool[In any](s *Server, name, description string, fn func(context.Context, In) (any, error)) {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: name, Description: description}, handler(name, s.log, fn))
}
