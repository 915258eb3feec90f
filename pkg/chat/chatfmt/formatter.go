// Copyright 2024-2026 Aiku AI

// Package chatfmt implements the string contract between the chat pipeline
// and the client renderer: legacy '&' color codes, positional format
// templates and placeholder expansion.
package chatfmt

import (
	"regexp"
	"strings"
)

// ColorChar is the section sign that prefixes a color or style code in the
// rendered output.
const ColorChar = '§'

// Positional placeholders understood by the renderer. The first one is the
// sender, the second one is the message body.
const (
	SenderToken  = "%1$s"
	MessageToken = "%2$s"
)

var (
	legacyCodeRe = regexp.MustCompile(`&([0-9A-Fa-fK-Ok-oRrXx])`)
	colorCodeRe  = regexp.MustCompile(`§[0-9A-Fa-fK-Ok-oRrXx]`)
)

// Colorize translates '&'-prefixed codes into section sign codes. Codes are
// lower-cased; an '&' that is not followed by a valid code is left alone.
func Colorize(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}
	return legacyCodeRe.ReplaceAllStringFunc(text, func(match string) string {
		return string(ColorChar) + strings.ToLower(match[1:])
	})
}

// StripColor removes every section sign code from text.
func StripColor(text string) string {
	if !strings.ContainsRune(text, ColorChar) {
		return text
	}
	return colorCodeRe.ReplaceAllString(text, "")
}

// EscapePercent doubles every '%' that does not start one of the two
// positional placeholders, so the template survives printf-style rendering.
func EscapePercent(format string) string {
	if !strings.Contains(format, "%") {
		return format
	}
	var sb strings.Builder
	sb.Grow(len(format) + 8)
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		if i+3 < len(format) &&
			(format[i+1] == '1' || format[i+1] == '2') &&
			format[i+2] == '$' &&
			format[i+3] == 's' {
			sb.WriteByte(c)
		} else {
			sb.WriteString("%%")
		}
	}
	return sb.String()
}

// FormatParams holds the inputs for BuildFormat.
type FormatParams struct {
	// Template is the configured chat format, e.g. "{player}: {message}".
	Template string
	// ChannelDisplay is prepended followed by a space when non-empty.
	ChannelDisplay string
	// DisplayName replaces {displayname} literally.
	DisplayName string
}

// BuildFormat turns a configured template into a renderer format string.
// {player} and {message} become positional placeholders, colors are
// translated and stray percent signs are escaped.
func BuildFormat(params FormatParams) string {
	format := params.Template
	if params.ChannelDisplay != "" {
		format = params.ChannelDisplay + " " + format
	}
	format = strings.ReplaceAll(format, "{player}", SenderToken)
	format = strings.ReplaceAll(format, "{displayname}", params.DisplayName)
	format = strings.ReplaceAll(format, "{message}", MessageToken)
	return EscapePercent(Colorize(format))
}

// Render applies a format produced by BuildFormat. Positional placeholders
// are substituted and "%%" collapses to a single '%'. Any other '%' is
// copied verbatim.
func Render(format, sender, message string) string {
	if format == "" {
		return sender + ": " + message
	}
	var sb strings.Builder
	sb.Grow(len(format) + len(sender) + len(message))
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		switch {
		case strings.HasPrefix(format[i:], SenderToken):
			sb.WriteString(sender)
			i += len(SenderToken) - 1
		case strings.HasPrefix(format[i:], MessageToken):
			sb.WriteString(message)
			i += len(MessageToken) - 1
		case i+1 < len(format) && format[i+1] == '%':
			sb.WriteByte('%')
			i++
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Expand replaces placeholder keys with values. Pairs are given as
// alternating key, value arguments; earlier keys win on overlap.
func Expand(text string, pairs ...string) string {
	if text == "" || len(pairs) < 2 {
		return text
	}
	if len(pairs)%2 != 0 {
		pairs = pairs[:len(pairs)-1]
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
