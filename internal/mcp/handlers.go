package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wesm/tagmail/internal/compose"
	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/store"
)

// Engine is the subset of *engine.Engine the tools call.
type Engine interface {
	List(ctx context.Context, q string, opts engine.ListOptions) ([]store.Summary, error)
	Count(ctx context.Context, q string) (int, error)
	ApplyTag(ctx context.Context, q, tag string) (int, error)
	RemoveTag(ctx context.Context, q, tag string) (int, error)
	ListTags(ctx context.Context) []string
	View(ctx context.Context, id string) (*store.Message, error)
	ReplyTemplate(ctx context.Context, id string) (*compose.Draft, error)
	Preview(ctx context.Context, d *compose.Draft) ([]byte, error)
	Send(ctx context.Context, d *compose.Draft) (*store.Message, error)
}

type handlers struct {
	engine       Engine
	blobs        *store.BlobStore
	defaultLimit int
}

// draftHeaders maps tool arguments onto draft header names.
var draftHeaders = []struct{ arg, header string }{
	{"from", store.HeaderFrom},
	{"to", store.HeaderTo},
	{"cc", store.HeaderCc},
	{"bcc", store.HeaderBcc},
	{"reply_to", store.HeaderReplyTo},
	{"subject", store.HeaderSubject},
	{"in_reply_to", store.HeaderInReplyTo},
	{"references", store.HeaderReferences},
}

// errorResult turns an engine error into a tool error result. Tool errors are
// reported to the model rather than failing the protocol call.
func errorResult(op string, err error) *mcp.CallToolResult {
	if errors.Is(err, engine.ErrNoDeliverer) {
		return mcp.NewToolResultError(op + " failed: no SMTP relay configured ([smtp] host in config.toml)")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func requiredString(args map[string]any, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	return v, nil
}

// intArg extracts a non-negative integer from the arguments map. JSON
// numbers arrive as float64.
func intArg(args map[string]any, key string) int {
	v, ok := args[key].(float64)
	if !ok || math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > float64(math.MaxInt32) {
		return math.MaxInt32
	}
	return int(v)
}

func draftArg(args map[string]any) *compose.Draft {
	d := &compose.Draft{
		Headers: make(map[string]string),
		Body:    stringArg(args, "body"),
	}
	for _, h := range draftHeaders {
		if v := stringArg(args, h.arg); v != "" {
			d.Headers[h.header] = v
		}
	}
	return d
}

func (h *handlers) listEml(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	opts := engine.PageOptions(intArg(args, "offset"), intArg(args, "limit"), h.defaultLimit)

	msgs, err := h.engine.List(ctx, stringArg(args, "query"), opts)
	if err != nil {
		return errorResult("list", err), nil
	}
	if msgs == nil {
		msgs = []store.Summary{}
	}
	return jsonResult(msgs)
}

func (h *handlers) countMatches(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := h.engine.Count(ctx, stringArg(req.GetArguments(), "query"))
	if err != nil {
		return errorResult("count", err), nil
	}
	return jsonResult(map[string]int{"count": n})
}

func (h *handlers) applyTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.mutateTag(ctx, req, true)
}

func (h *handlers) removeTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.mutateTag(ctx, req, false)
}

func (h *handlers) mutateTag(ctx context.Context, req mcp.CallToolRequest, add bool) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if _, ok := args["query"].(string); !ok {
		// An empty string is a valid query; an absent one is a mistake.
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	tag, err := requiredString(args, "tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	q := stringArg(args, "query")
	var n int
	if add {
		n, err = h.engine.ApplyTag(ctx, q, tag)
	} else {
		n, err = h.engine.RemoveTag(ctx, q, tag)
	}
	if err != nil {
		return errorResult("tag", err), nil
	}
	return jsonResult(map[string]any{"tag": tag, "changed": n})
}

func (h *handlers) listTags(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags := h.engine.ListTags(ctx)
	if tags == nil {
		tags = []string{}
	}
	return jsonResult(tags)
}

func (h *handlers) viewEml(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(req.GetArguments(), "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := h.engine.View(ctx, id)
	if err != nil {
		return errorResult("view", err), nil
	}
	return jsonResult(msg)
}

func (h *handlers) getReplyTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(req.GetArguments(), "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	draft, err := h.engine.ReplyTemplate(ctx, id)
	if err != nil {
		return errorResult("reply template", err), nil
	}
	return jsonResult(draft)
}

func (h *handlers) previewEml(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.engine.Preview(ctx, draftArg(req.GetArguments()))
	if err != nil {
		return errorResult("preview", err), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (h *handlers) sendEml(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := h.engine.Send(ctx, draftArg(req.GetArguments()))
	if err != nil {
		return errorResult("send", err), nil
	}
	return jsonResult(map[string]any{"id": msg.ID, "tags": msg.Tags.Sorted()})
}

func (h *handlers) getAttachment(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handle, err := requiredString(req.GetArguments(), "handle")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if h.blobs == nil {
		return mcp.NewToolResultError("attachments directory not configured"), nil
	}
	data, err := h.blobs.Get(handle)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"handle":         handle,
		"size":           len(data),
		"content_base64": base64.StdEncoding.EncodeToString(data),
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
