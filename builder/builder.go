// Package builder turns loosely typed source records into complete MIME
// documents. Building never fails: broken fields fall back to defaults, broken
// attachments are skipped and anything worse yields a minimal error document.
package builder

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	netmail "net/mail"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/ost-export/classify"
	"github.com/dhcgn/ost-export/model"
	"github.com/dhcgn/ost-export/source"
)

const (
	DefaultFrom     = "unknown@example.com"
	NoBodyText      = "No message body found."
	FallbackFrom    = "error@local"
	FallbackTo      = "unknown@local"
	FallbackSubject = "Error processing message"
)

var ErrNilRecord = errors.New("source record is nil")

// Options configures a Builder. Zero values pick sensible defaults.
type Options struct {
	Classifier *classify.Classifier
	// Now is the clock used for missing dates and Message-IDs.
	Now      func() time.Time
	Hostname string
	Logger   *slog.Logger
}

// Builder is safe for concurrent use.
type Builder struct {
	classifier *classify.Classifier
	now        func() time.Time
	hostname   string
	logger     *slog.Logger
	seq        atomic.Uint64
}

func New(opts Options) *Builder {
	b := &Builder{
		classifier: opts.Classifier,
		now:        opts.Now,
		hostname:   opts.Hostname,
		logger:     opts.Logger,
	}
	if b.classifier == nil {
		b.classifier = classify.New(nil)
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.hostname == "" {
		b.hostname, _ = os.Hostname()
	}
	b.hostname = sanitizeHost(b.hostname)
	if b.logger == nil {
		b.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return b
}

// Build converts rec into a document. The result is never nil.
func (b *Builder) Build(rec source.Record) *model.Document {
	doc, _ := b.TryBuild(rec)
	return doc
}

// TryBuild is Build that also reports why the fallback document was used.
// The returned document is valid even when err is non-nil.
func (b *Builder) TryBuild(rec source.Record) (doc *model.Document, err error) {
	seq := b.seq.Add(1)
	now := b.now()
	id := b.messageID(now, seq)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build message: %v", r)
			b.logger.Error("message construction failed, using fallback document", "messageID", id, "err", err)
			doc = b.fallback(id, now, err)
		}
	}()

	if rec == nil {
		return b.fallback(id, now, ErrNilRecord), ErrNilRecord
	}
	return b.build(rec, id, now), nil
}

func (b *Builder) build(rec source.Record, id string, now time.Time) *model.Document {
	var h mail.Header
	if subject, ok := field(b, "subject", rec.Subject); ok && strings.TrimSpace(subject) != "" {
		h.SetSubject(subject)
	}
	sender, _ := field(b, "sender", rec.SenderName)
	h.SetAddressList("From", fromAddresses(sender))
	if to, ok := field(b, "to", rec.DisplayTo); ok && strings.TrimSpace(to) != "" {
		h.SetText("To", to)
	}
	if cc, ok := field(b, "cc", rec.DisplayCc); ok && strings.TrimSpace(cc) != "" {
		h.SetText("Cc", cc)
	}
	date, ok := field(b, "delivery time", rec.DeliveryTime)
	if !ok || date.IsZero() {
		date = now
	}
	h.SetDate(date)
	h.SetMessageID(id)
	h.Set("MIME-Version", "1.0")
	h.SetContentType("multipart/mixed", map[string]string{"boundary": boundary(id, "mixed")})

	alternative := multipart("alternative", id)
	alternative.Children = b.bodyParts(rec, id)
	related := multipart("related", id)
	related.Children = []*model.Part{alternative}

	doc := &model.Document{Header: h, Parts: []*model.Part{related}}
	doc.Parts = append(doc.Parts, b.attachmentParts(rec, id)...)
	return doc
}

// bodyParts returns the alternative container's children: the derived or
// plain text first, HTML last.
func (b *Builder) bodyParts(rec source.Record, id string) (parts []*model.Part) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message body failed, using placeholder", "messageID", id, "err", r)
			parts = []*model.Part{textPart("plain", NoBodyText)}
		}
	}()

	if raw, ok := field(b, "html body", rec.HTMLBody); ok && len(raw) > 0 {
		body := DecodeText(raw)
		if strings.TrimSpace(body) != "" {
			text, err := HTMLToText(body)
			switch {
			case err != nil:
				b.logger.Warn("html text extraction failed, keeping html only", "messageID", id, "err", err)
			case text != "":
				parts = append(parts, textPart("plain", text))
			}
			return append(parts, textPart("html", body))
		}
	}

	if raw, ok := field(b, "plain text body", rec.PlainTextBody); ok && len(raw) > 0 {
		body := DecodeText(raw)
		if strings.TrimSpace(body) != "" {
			return []*model.Part{textPart("plain", body)}
		}
	}

	b.logger.Debug("no message body found", "messageID", id)
	return []*model.Part{textPart("plain", NoBodyText)}
}

func (b *Builder) attachmentParts(rec source.Record, id string) []*model.Part {
	atts, err := attachments(rec)
	if err != nil {
		b.logger.Warn("attachment enumeration failed", "messageID", id, "kept", len(atts), "err", err)
	}

	parts := make([]*model.Part, 0, len(atts))
	for i, att := range atts {
		part, err := b.attachmentPart(att, i+1)
		if err != nil {
			b.logger.Warn("skipping attachment", "messageID", id, "index", i+1, "err", err)
			continue
		}
		if part == nil {
			b.logger.Debug("skipping empty attachment", "messageID", id, "index", i+1)
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

func (b *Builder) attachmentPart(att source.Attachment, ordinal int) (part *model.Part, err error) {
	defer func() {
		if r := recover(); r != nil {
			part, err = nil, fmt.Errorf("attachment %d: %v", ordinal, r)
		}
	}()

	if att == nil {
		return nil, nil
	}
	data, err := source.ReadAll(att)
	if err != nil {
		return nil, err
	}
	name, _ := att.Name()
	res := b.classifier.Classify(data, name, ordinal)
	if res.Empty {
		return nil, nil
	}

	var h message.Header
	params := map[string]string{"name": res.Filename}
	body := data
	encoding := "base64"
	if res.IsText() {
		params["charset"] = "utf-8"
		body = []byte(DecodeText(data))
		encoding = "8bit"
	}
	h.SetContentType(res.MediaType(), params)
	h.SetContentDisposition("attachment", map[string]string{"filename": res.Filename})
	h.Set("Content-Transfer-Encoding", encoding)
	if res.MediaType() == "application/pdf" {
		h.Set("Content-Description", "PDF Document")
	}

	b.logger.Debug("attachment classified", "filename", res.Filename, "type", res.MediaType(), "size", len(data), "signature", res.FromSignature)
	return &model.Part{Header: h, Body: body}, nil
}

// fallback builds the minimal document used when a record cannot be converted.
func (b *Builder) fallback(id string, now time.Time, cause error) *model.Document {
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Address: FallbackFrom}})
	h.SetAddressList("To", []*mail.Address{{Address: FallbackTo}})
	h.SetSubject(FallbackSubject)
	h.SetDate(now)
	h.SetMessageID(id)
	h.Set("MIME-Version", "1.0")
	h.SetContentType("multipart/mixed", map[string]string{"boundary": boundary(id, "mixed")})
	return &model.Document{
		Header: h,
		Parts:  []*model.Part{textPart("plain", "Error processing message: "+cause.Error())},
	}
}

func (b *Builder) messageID(now time.Time, seq uint64) string {
	return fmt.Sprintf("%d.%d@%s", now.UnixNano(), seq, b.hostname)
}

// field reads an optional accessor; a panicking accessor counts as absent.
func field[T any](b *Builder, name string, get func() (T, bool)) (v T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Debug("field extraction failed", "field", name, "err", r)
			var zero T
			v, ok = zero, false
		}
	}()
	return get()
}

func attachments(rec source.Record) (atts []source.Attachment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enumerate attachments: %v", r)
		}
	}()
	return rec.Attachments()
}

func fromAddresses(sender string) []*mail.Address {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return []*mail.Address{{Address: DefaultFrom}}
	}
	if addrs, err := netmail.ParseAddressList(sender); err == nil && len(addrs) > 0 {
		return addrs
	}
	return []*mail.Address{{Name: sender, Address: DefaultFrom}}
}

func multipart(kind, id string) *model.Part {
	var h message.Header
	h.SetContentType("multipart/"+kind, map[string]string{"boundary": boundary(id, kind)})
	return &model.Part{Header: h}
}

func textPart(subtype, text string) *model.Part {
	var h message.Header
	h.SetContentType("text/"+subtype, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	return &model.Part{Header: h, Body: []byte(text)}
}

// boundary is derived from the Message-ID so that identical input produces
// identical output.
func boundary(id, kind string) string {
	sum := sha256.Sum256([]byte(id + "/" + kind))
	return fmt.Sprintf("%s_%x", kind, sum[:12])
}

func sanitizeHost(host string) string {
	host = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return -1
	}, host)
	if host == "" {
		return "localhost"
	}
	return host
}
