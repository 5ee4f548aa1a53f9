// Package mcp exposes the tagmail engine as Model Context Protocol tools
// served over stdio.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wesm/tagmail/internal/store"
)

// Tool name constants.
const (
	ToolListEml          = "list_eml"
	ToolCountMatches     = "count_matches"
	ToolApplyTag         = "apply_tag"
	ToolRemoveTag        = "rm_tag"
	ToolListTags         = "list_tags"
	ToolViewEml          = "view_eml"
	ToolGetReplyTemplate = "get_reply_template"
	ToolPreviewEml       = "preview_eml"
	ToolSendEml          = "send_eml"
	ToolGetAttachment    = "get_attachment"
)

const queryHelp = "Query: tag:NAME (or is:NAME), from:, to: (To and Cc), cc:, subject:, id:, date:YYYY[-MM[-DD]][..YYYY[-MM[-DD]]], " +
	"free text, \"quoted phrases\", and, or, not (or -), parentheses. Empty matches everything."

// Options configures the tool handlers.
type Options struct {
	// Blobs serves attachment content to get_attachment. Nil disables it.
	Blobs *store.BlobStore

	// DefaultLimit is the list_eml page size when the caller gives none.
	DefaultLimit int
}

// Common argument helpers for recurring tool option definitions.

func withQuery(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{mcp.Description(queryHelp)}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithString("query", opts...)
}

func withTag() mcp.ToolOption {
	return mcp.WithString("tag",
		mcp.Required(),
		mcp.MinLength(1),
		mcp.Description("Tag name: no whitespace, ':', '(', ')' or '\"', and must not start with '-'"),
	)
}

func withID() mcp.ToolOption {
	return mcp.WithString("id",
		mcp.Required(),
		mcp.MinLength(1),
		mcp.Description("Message ID from list_eml results"),
	)
}

func draftOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("from", mcp.Required(), mcp.Description("From address")),
		mcp.WithString("to", mcp.Description("Comma-separated recipient addresses")),
		mcp.WithString("cc", mcp.Description("Comma-separated Cc addresses")),
		mcp.WithString("bcc", mcp.Description("Comma-separated Bcc addresses; delivered but not shown")),
		mcp.WithString("reply_to", mcp.Description("Reply-To address")),
		mcp.WithString("subject", mcp.Description("Subject line")),
		mcp.WithString("in_reply_to", mcp.Description("Message-ID being replied to (from get_reply_template)")),
		mcp.WithString("references", mcp.Description("References header (from get_reply_template)")),
		mcp.WithString("body", mcp.Description("Plain text body")),
	}
}

// NewServer builds an MCP server with every tool registered.
func NewServer(eng Engine, opts Options) *server.MCPServer {
	s := server.NewMCPServer(
		"tagmail",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := &handlers{engine: eng, blobs: opts.Blobs, defaultLimit: opts.DefaultLimit}

	s.AddTool(listEmlTool(), h.listEml)
	s.AddTool(countMatchesTool(), h.countMatches)
	s.AddTool(applyTagTool(), h.applyTag)
	s.AddTool(removeTagTool(), h.removeTag)
	s.AddTool(listTagsTool(), h.listTags)
	s.AddTool(viewEmlTool(), h.viewEml)
	s.AddTool(getReplyTemplateTool(), h.getReplyTemplate)
	s.AddTool(previewEmlTool(), h.previewEml)
	s.AddTool(sendEmlTool(), h.sendEml)
	if opts.Blobs != nil {
		s.AddTool(getAttachmentTool(), h.getAttachment)
	}
	return s
}

// Serve runs the MCP server over stdio. It blocks until stdin is closed or
// the context is cancelled.
func Serve(ctx context.Context, eng Engine, opts Options) error {
	stdio := server.NewStdioServer(NewServer(eng, opts))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func listEmlTool() mcp.Tool {
	return mcp.NewTool(ToolListEml,
		mcp.WithDescription("List messages matching a query, newest first. Returns id, from, to, subject, date, tags and attachment count per message."),
		mcp.WithReadOnlyHintAnnotation(true),
		withQuery(false),
		mcp.WithNumber("limit", mcp.Description("Maximum results to return (default 25, max 500)")),
		mcp.WithNumber("offset", mcp.Description("Number of results to skip for pagination (default 0)")),
	)
}

func countMatchesTool() mcp.Tool {
	return mcp.NewTool(ToolCountMatches,
		mcp.WithDescription("Count the messages matching a query."),
		mcp.WithReadOnlyHintAnnotation(true),
		withQuery(false),
	)
}

func applyTagTool() mcp.Tool {
	return mcp.NewTool(ToolApplyTag,
		mcp.WithDescription("Add a tag to every message matching a query. Returns how many messages gained the tag."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		withQuery(true),
		withTag(),
	)
}

func removeTagTool() mcp.Tool {
	return mcp.NewTool(ToolRemoveTag,
		mcp.WithDescription("Remove a tag from every message matching a query. Returns how many messages lost the tag."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		withQuery(true),
		withTag(),
	)
}

func listTagsTool() mcp.Tool {
	return mcp.NewTool(ToolListTags,
		mcp.WithDescription("List every tag carried by at least one message."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func viewEmlTool() mcp.Tool {
	return mcp.NewTool(ToolViewEml,
		mcp.WithDescription("Get a full message: headers, date, text and HTML body, attachment metadata and tags."),
		mcp.WithReadOnlyHintAnnotation(true),
		withID(),
	)
}

func getReplyTemplateTool() mcp.Tool {
	return mcp.NewTool(ToolGetReplyTemplate,
		mcp.WithDescription("Build a reply draft for a message: addressed to the sender, Re: subject, threading headers and the quoted original body."),
		mcp.WithReadOnlyHintAnnotation(true),
		withID(),
	)
}

func previewEmlTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Render a draft exactly as send_eml would deliver it, without sending."),
		mcp.WithReadOnlyHintAnnotation(true),
	}
	return mcp.NewTool(ToolPreviewEml, append(opts, draftOptions()...)...)
}

func sendEmlTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Send a draft via SMTP and store the sent copy tagged 'sent'. Calling twice sends twice."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
	}
	return mcp.NewTool(ToolSendEml, append(opts, draftOptions()...)...)
}

func getAttachmentTool() mcp.Tool {
	return mcp.NewTool(ToolGetAttachment,
		mcp.WithDescription("Get attachment content by handle. Returns base64-encoded content. Use view_eml first to find attachment handles."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("handle",
			mcp.Required(),
			mcp.Description("Attachment handle (from view_eml response)"),
		),
	)
}
