package campusmail

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rbaliyan/campusmail/store"
)

// MessageLimits bounds the size and shape of composed messages.
// Limits apply to drafts and sent messages alike; required-field checks are
// done by the store and apply only when sending.
type MessageLimits struct {
	MaxSubjectLength   int
	MaxContentSize     int
	MaxAttachmentSize  int64
	MaxAttachmentCount int
	BlockedMIMETypes   []string
}

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength:   DefaultMaxSubjectLength,
		MaxContentSize:     DefaultMaxContentSize,
		MaxAttachmentSize:  DefaultMaxAttachmentSize,
		MaxAttachmentCount: DefaultMaxAttachmentCount,
		BlockedMIMETypes:   DefaultBlockedMIMETypes(),
	}
}

// ValidateSubject checks subject length and characters. An empty subject
// passes; whether one is required depends on draft state.
func ValidateSubject(subject string, limits MessageLimits) error {
	if utf8.RuneCountInString(subject) > limits.MaxSubjectLength {
		return invalidField(store.FieldNameSubject, "length exceeds max %d", limits.MaxSubjectLength)
	}
	if !utf8.ValidString(subject) {
		return invalidField(store.FieldNameSubject, "contains invalid UTF-8")
	}
	for _, r := range subject {
		if unicode.IsControl(r) && r != '\t' {
			return invalidField(store.FieldNameSubject, "contains control character U+%04X", r)
		}
	}
	return nil
}

// ValidateContent checks content size and encoding.
func ValidateContent(content string, limits MessageLimits) error {
	if len(content) > limits.MaxContentSize {
		return invalidField(store.FieldNameContent, "size %d exceeds max %d bytes", len(content), limits.MaxContentSize)
	}
	if !utf8.ValidString(content) {
		return invalidField(store.FieldNameContent, "contains invalid UTF-8")
	}
	if strings.ContainsRune(content, '\x00') {
		return invalidField(store.FieldNameContent, "contains null bytes")
	}
	return nil
}

// ValidateAttachments checks attachment count, sizes and content types.
func ValidateAttachments(attachments []store.Attachment, limits MessageLimits) error {
	if len(attachments) > limits.MaxAttachmentCount {
		return invalidField("attachments", "count %d exceeds max %d", len(attachments), limits.MaxAttachmentCount)
	}
	for i, a := range attachments {
		if a.Size > limits.MaxAttachmentSize {
			return invalidField(fmt.Sprintf("attachments[%d].size", i), "%d exceeds max %d bytes", a.Size, limits.MaxAttachmentSize)
		}
		if a.ContentType == "" {
			continue
		}
		for _, blocked := range limits.BlockedMIMETypes {
			if matchMIMEType(normalizeMIMEType(a.ContentType), blocked) {
				return invalidField(fmt.Sprintf("attachments[%d].content_type", i), "content type %q is blocked", a.ContentType)
			}
		}
	}
	return nil
}

// ValidateLimits applies every limit to msg.
func ValidateLimits(msg *store.Message, limits MessageLimits) error {
	if err := ValidateSubject(msg.Subject, limits); err != nil {
		return err
	}
	if err := ValidateContent(msg.Content, limits); err != nil {
		return err
	}
	return ValidateAttachments(msg.Attachments, limits)
}

// normalizeMIMEType extracts the base MIME type without parameters.
// e.g., "text/plain; charset=utf-8" -> "text/plain"
func normalizeMIMEType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

// matchMIMEType checks if contentType matches the pattern.
// Supports wildcards: "image/*" matches "image/png", "image/jpeg", etc.
func matchMIMEType(contentType, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == contentType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(contentType, prefix+"/")
	}
	return false
}

// DefaultBlockedMIMETypes returns executable and script types that are
// refused as attachments.
func DefaultBlockedMIMETypes() []string {
	return []string{
		"application/x-msdownload",
		"application/x-executable",
		"application/x-msdos-program",
		"application/x-sh",
		"application/x-shellscript",
		"application/x-bat",
		"application/x-msi",
		"application/vnd.microsoft.portable-executable",
		"application/x-dosexec",
	}
}
