package replay

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/snapshot"
)

const (
	// MaxContentLength is the platform's per-message character ceiling.
	MaxContentLength = 2000
	ellipsis         = "..."
	unknownAuthor    = "Unknown User"
)

// Compose renders msg for posting: annotation, content, original-time
// footer and attachment notes. The second result is false when there is
// nothing to post.
func (r *Replayer) Compose(msg snapshot.MessageRecord) (gateway.Outbound, bool) {
	if msg.Empty() && !hasCrossServerNote(msg) {
		return gateway.Outbound{}, false
	}

	var b strings.Builder
	b.WriteString(annotation(msg))
	b.WriteString(body(msg))
	b.WriteString(footer(msg.Timestamp))

	out := gateway.Outbound{
		Username:  authorName(msg.Author),
		AvatarURL: msg.Author.AvatarURL,
	}
	if r.opts.RestoreMedia && len(msg.Attachments) > 0 {
		files, notes := r.attachments(msg)
		out.Files = files
		b.WriteString(notes)
	}
	out.Content = Truncate(b.String(), MaxContentLength)
	return out, true
}

// Operator returns msg rewritten for a plain send by the tool's own
// identity: the author is carried as a bold prefix.
func Operator(msg gateway.Outbound) gateway.Outbound {
	msg.Content = Truncate(fmt.Sprintf("**%s**: %s", msg.Username, msg.Content), MaxContentLength)
	msg.Username = ""
	msg.AvatarURL = ""
	return msg
}

// Truncate caps s at limit characters, replacing the tail with "...".
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-len(ellipsis)]) + ellipsis
}

func annotation(msg snapshot.MessageRecord) string {
	if msg.IsCrossServerForward {
		guild := ""
		if msg.CrossServerMetadata != nil {
			guild = msg.CrossServerMetadata.GuildName
		}
		return fmt.Sprintf("*[Cross-server forward from %s]*\n", orDefault(guild, "unknown server"))
	}
	ref := msg.Reference
	if ref == nil {
		return ""
	}
	if ref.Type == "reply" && ref.OriginalAuthor != nil && ref.OriginalAuthor.Username != "" {
		return fmt.Sprintf("*[Reply to %s]*\n", ref.OriginalAuthor.Username)
	}
	return fmt.Sprintf("*[Forwarded from #%s]*\n", orDefault(ref.ChannelName, "unknown"))
}

func body(msg snapshot.MessageRecord) string {
	if msg.Content == "" && hasCrossServerNote(msg) {
		return "*" + msg.CrossServerMetadata.Note + "*"
	}
	return msg.Content
}

func hasCrossServerNote(msg snapshot.MessageRecord) bool {
	return msg.IsCrossServerForward && msg.CrossServerMetadata != nil && msg.CrossServerMetadata.Note != ""
}

func footer(ts string) string {
	if ts == "" {
		return "\n*Original time: Unknown*"
	}
	ts = strings.ReplaceAll(ts, "T", " ")
	ts = strings.ReplaceAll(ts, "Z", " UTC")
	return "\n*Original time: " + ts + "*"
}

// attachments loads up to the per-message cap of cached files. Files that
// cannot be sent become inline notes.
func (r *Replayer) attachments(msg snapshot.MessageRecord) ([]gateway.File, string) {
	var (
		files []gateway.File
		notes strings.Builder
	)
	list := msg.Attachments
	if len(list) > r.opts.AttachmentsPerMessage {
		r.logger.Debug("attachment cap reached",
			"message", msg.ID, "attachments", len(list), "cap", r.opts.AttachmentsPerMessage)
		list = list[:r.opts.AttachmentsPerMessage]
	}
	for _, a := range list {
		name := orDefault(a.Filename, "attachment")
		if a.LocalPath == "" {
			fmt.Fprintf(&notes, "\n*[Attachment not downloaded: %s]*", name)
			continue
		}
		size, ok, err := r.cache.Stat(a.LocalPath)
		switch {
		case err != nil:
			r.logger.Warn("attachment unreadable", "message", msg.ID, "file", name, "error", err)
			fmt.Fprintf(&notes, "\n*[Attachment unavailable: %s]*", name)
			continue
		case !ok:
			fmt.Fprintf(&notes, "\n*[Attachment not downloaded: %s]*", name)
			continue
		case size > r.opts.FileSizeLimit:
			fmt.Fprintf(&notes, "\n*[Attachment too large: %s]*", name)
			continue
		}
		blob, ok, err := r.cache.Open(a.LocalPath, name)
		if err != nil || !ok {
			r.logger.Warn("attachment unreadable", "message", msg.ID, "file", name, "error", err)
			fmt.Fprintf(&notes, "\n*[Attachment unavailable: %s]*", name)
			continue
		}
		ct := a.ContentType
		if ct == "" {
			ct = blob.ContentType
		}
		files = append(files, gateway.File{Name: name, ContentType: ct, Data: blob.Data})
	}
	return files, notes.String()
}

func authorName(a snapshot.AuthorSummary) string {
	return orDefault(a.Username, unknownAuthor)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
