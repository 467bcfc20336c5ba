package api

import (
	"strconv"

	"github.com/hazyhaar/fiscalflow/pkg/kit"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers the fiscalflow MCP tools on the server.
func RegisterMCPTools(srv *server.MCPServer, holder *Holder, opts Options) {
	ep := makeEndpoints(holder, opts.logger())

	kit.RegisterMCPTool(srv, mcp.NewTool("balance",
		mcp.WithDescription("Total revenue, total expenditure, result, margin and fiscal autonomy of the municipality for the selected years."),
		mcp.WithString("years", mcp.Description("Comma-separated fiscal years (e.g. 2022,2023); all loaded years when omitted")),
	), ep.balance, mcpDecoder(decodeBalance))

	kit.RegisterMCPTool(srv, mcp.NewTool("aggregate",
		mcp.WithDescription("Sum a revenue or expenditure measure along a hierarchy of columns."),
		mcp.WithString("table", mcp.Required(), mcp.Description("revenue or expenditure")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Comma-separated grouping columns (e.g. category,nature)")),
		mcp.WithString("measure", mcp.Description("Measure column; realized_amount for revenue and paid for expenditure by default")),
		mcp.WithString("years", mcp.Description("Comma-separated fiscal years")),
		mcp.WithNumber("top", mcp.Description("Keep the top N categories (0 = all)")),
	), ep.aggregate, mcpDecoder(decodeAggregate))

	kit.RegisterMCPTool(srv, mcp.NewTool("flows",
		mcp.WithDescription("Per-year money flows: revenue types into the treasury, treasury into expenditure functions."),
		mcp.WithString("years", mcp.Description("Comma-separated fiscal years")),
		mcp.WithNumber("top_sources", mcp.Description("Revenue types shown before grouping the rest")),
		mcp.WithNumber("top_sinks", mcp.Description("Expenditure functions shown before grouping the rest")),
	), ep.flows, mcpDecoder(decodeFlows(opts.Limits)))

	kit.RegisterMCPTool(srv, mcp.NewTool("chain",
		mcp.WithDescription("Hierarchical breakdown of one table under a single total (e.g. category -> nature -> element)."),
		mcp.WithString("table", mcp.Description("revenue or expenditure (default)")),
		mcp.WithString("path", mcp.Description("Comma-separated hierarchy; the budget classification by default")),
		mcp.WithString("years", mcp.Description("Comma-separated fiscal years")),
		mcp.WithNumber("top", mcp.Description("Keep only the top N values of the innermost level")),
	), ep.chain, mcpDecoder(decodeChain(opts.Limits)))
}

// mcpParams reads tool arguments as strings so HTTP and MCP share decoders.
func mcpParams(req mcp.CallToolRequest) params {
	args := req.GetArguments()
	return func(name string) string {
		switch v := args[name].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return ""
	}
}

func mcpDecoder(decode func(params) (any, error)) func(mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := decode(mcpParams(req))
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}
}
