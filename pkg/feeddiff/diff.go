// Package feeddiff implements the pure feed-diffing step of the pull
// worker: splitting a fetched Atom or RSS document into its envelope (the
// feed minus entry bodies) and a list of entries (ID plus raw entry XML) in
// document order, and
// splicing new entry payloads back into an envelope to build a delivery
// payload. It is grounded on original_source/hub/main.py's feed_diff.filter
// and EventToDeliver.create_event_for_topic, reimplemented over
// encoding/xml instead of Python's xml.sax.
package feeddiff

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Format identifies the syndication format of a feed document.
type Format string

const (
	Atom Format = "atom"
	RSS  Format = "rss"
)

func (f Format) entryTag() string {
	if f == RSS {
		return "item"
	}
	return "entry"
}

func (f Format) closeTag() string {
	if f == RSS {
		return "</channel>"
	}
	return "</feed>"
}

// Entry is one raw feed entry, plus its extracted ID, ready for content
// hashing and seen-entry comparison by the caller.
type Entry struct {
	ID      string
	Content []byte
}

// DiffFeed splits content into its envelope (everything outside of entry
// elements) and the list of entries found within it, in document order.
func DiffFeed(content []byte, format Format) (envelope []byte, entries []Entry, err error) {
	entryTag := format.entryTag()
	dec := xml.NewDecoder(bytes.NewReader(content))

	var firstStart, lastEnd int64 = -1, -1

	for {
		start := dec.InputOffset()
		tok, tokErr := dec.Token()
		if tokErr == io.EOF {
			break
		}
		if tokErr != nil {
			return nil, nil, fmt.Errorf("feeddiff: parse: %w", tokErr)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != entryTag {
			continue
		}

		if err := dec.Skip(); err != nil {
			return nil, nil, fmt.Errorf("feeddiff: skip entry: %w", err)
		}
		end := dec.InputOffset()

		raw := content[start:end]
		id, idErr := extractEntryID(format, raw)
		if idErr != nil {
			return nil, nil, idErr
		}
		entries = append(entries, Entry{ID: id, Content: raw})

		if firstStart == -1 {
			firstStart = start
		}
		lastEnd = end
	}

	if firstStart == -1 {
		// No entries found; the whole document is the envelope.
		return content, nil, nil
	}

	envelope = make([]byte, 0, len(content)-int(lastEnd-firstStart))
	envelope = append(envelope, content[:firstStart]...)
	envelope = append(envelope, content[lastEnd:]...)
	return envelope, entries, nil
}

// extractEntryID finds the stable identifier for a raw entry: the Atom
// <id> text, or the RSS <guid> text falling back to <link>.
func extractEntryID(format Format, raw []byte) (string, error) {
	idTag := "id"
	fallbackTag := ""
	if format == RSS {
		idTag = "guid"
		fallbackTag = "link"
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	var idValue, fallbackValue string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("feeddiff: parse entry id: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case idTag:
			idValue = readCharData(dec)
		case fallbackTag:
			if fallbackValue == "" {
				fallbackValue = readCharData(dec)
			}
		}
	}

	id := strings.TrimSpace(idValue)
	if id == "" {
		id = strings.TrimSpace(fallbackValue)
	}
	if id == "" {
		return "", fmt.Errorf("feeddiff: entry has no %s or %s", idTag, fallbackTag)
	}
	return id, nil
}

// readCharData reads the character data immediately following the element
// start token most recently returned by dec.
func readCharData(dec *xml.Decoder) string {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return sb.String()
		}
	}
	return sb.String()
}

// SplicePayload builds the delivery payload for a batch of new entries by
// inserting them into envelope just before its closing tag, matching
// EventToDeliver.create_event_for_topic exactly: an XML declaration, the
// envelope's head, the entries in the order given, then the envelope's tail.
func SplicePayload(format Format, envelope []byte, entryPayloads [][]byte) (string, error) {
	closeTag := format.closeTag()
	closeIndex := bytes.LastIndex(envelope, []byte(closeTag))
	if closeIndex == -1 {
		return "", fmt.Errorf("feeddiff: could not find %s in feed envelope", closeTag)
	}

	parts := make([]string, 0, len(entryPayloads)+3)
	parts = append(parts, `<?xml version="1.0" encoding="utf-8"?>`)
	parts = append(parts, string(envelope[:closeIndex]))
	for _, p := range entryPayloads {
		parts = append(parts, string(p))
	}
	parts = append(parts, string(envelope[closeIndex:]))
	return strings.Join(parts, "\n"), nil
}
