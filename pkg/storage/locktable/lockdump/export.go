// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package lockdump

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xmldb/xmldb/pkg/storage/lock"
	"github.com/xmldb/xmldb/pkg/storage/locktable"
	"gopkg.in/yaml.v2"
)

// Format is the encoding of a structured export.
type Format int

const (
	// FormatXML encodes the export as an XML document.
	FormatXML Format = iota
	// FormatJSON encodes the export as indented JSON.
	FormatJSON
	// FormatYAML encodes the export as YAML.
	FormatYAML
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat parses the name of an export format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "xml":
		return FormatXML, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return 0, errors.Newf("unknown export format %q", s)
}

// Export is the structured form of a snapshot.
type Export struct {
	XMLName   xml.Name   `xml:"locks" json:"-" yaml:"-"`
	TakenAt   string     `xml:"takenAt,attr" json:"takenAt" yaml:"takenAt"`
	Resources []Resource `xml:"resource" json:"resources" yaml:"resources"`
}

// Resource is the lock state of one key.
type Resource struct {
	ID         string   `xml:"id,attr" json:"id" yaml:"id"`
	Category   string   `xml:"category,attr" json:"category" yaml:"category"`
	Holds      []Hold   `xml:"hold" json:"holds,omitempty" yaml:"holds,omitempty"`
	Attempting Attempts `xml:"attempting,omitempty" json:"attempting,omitempty" yaml:"attempting,omitempty"`
}

// Hold is a granted lock, along with the owners waiting on its resource.
type Hold struct {
	Mode            string        `xml:"mode,attr" json:"mode" yaml:"mode"`
	Owner           string        `xml:"owner,attr" json:"owner" yaml:"owner"`
	Count           int           `xml:"count,attr" json:"count" yaml:"count"`
	WaitingForRead  OwnerList     `xml:"waitingForRead,omitempty" json:"waitingForRead,omitempty" yaml:"waitingForRead,omitempty"`
	WaitingForWrite OwnerList     `xml:"waitingForWrite,omitempty" json:"waitingForWrite,omitempty" yaml:"waitingForWrite,omitempty"`
	Traces          []TraceExport `xml:"trace" json:"traces,omitempty" yaml:"traces,omitempty"`
}

// OwnerList is a list of owners. In XML, each owner is an <owner>
// element.
type OwnerList []string

// MarshalXML implements xml.Marshaler.
func (l OwnerList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, o := range l {
		if err := e.EncodeElement(o, xml.StartElement{Name: xml.Name{Local: "owner"}}); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// Attempts is the queue of pending requests of a resource, in order. In
// XML, each request is an <attempt> element.
type Attempts []Attempt

// MarshalXML implements xml.Marshaler.
func (as Attempts) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, a := range as {
		if err := e.EncodeElement(a, xml.StartElement{Name: xml.Name{Local: "attempt"}}); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// Attempt is a pending lock request.
type Attempt struct {
	Mode       string       `xml:"mode,attr" json:"mode" yaml:"mode"`
	Owner      string       `xml:"owner,attr" json:"owner" yaml:"owner"`
	EnqueuedAt string       `xml:"enqueuedAt,attr" json:"enqueuedAt" yaml:"enqueuedAt"`
	Trace      *TraceExport `xml:"trace,omitempty" json:"trace,omitempty" yaml:"trace,omitempty"`
}

// TraceExport is a captured call stack.
type TraceExport struct {
	At     string   `xml:"at,attr" json:"at" yaml:"at"`
	Frames []string `xml:"frame" json:"frames" yaml:"frames"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func exportTrace(tr locktable.Trace) TraceExport {
	return TraceExport{At: formatTime(tr.At), Frames: tr.Lines()}
}

func ownerStrings(owners []lock.Owner) OwnerList {
	if len(owners) == 0 {
		return nil
	}
	res := make(OwnerList, len(owners))
	for i, o := range owners {
		res[i] = o.String()
	}
	return res
}

// BuildExport converts snap into its structured form, ordered by key.
// Each hold lists the owners waiting to read and to write its resource.
// Traces are included only with full set.
func BuildExport(snap *locktable.Snapshot, full bool) Export {
	ex := Export{TakenAt: formatTime(snap.TakenAt), Resources: []Resource{}}
	for _, key := range snap.Keys() {
		res := Resource{ID: key.ID, Category: key.Category.String()}
		waitingForRead := ownerStrings(snap.WaitingFor(key, lock.Read))
		waitingForWrite := ownerStrings(snap.WaitingFor(key, lock.Write))
		for _, h := range orderedHolds(snap, key) {
			eh := Hold{
				Mode:            h.mode.String(),
				Owner:           h.owner.String(),
				Count:           h.state.Count,
				WaitingForRead:  waitingForRead,
				WaitingForWrite: waitingForWrite,
			}
			if full {
				for _, tr := range h.state.Traces {
					eh.Traces = append(eh.Traces, exportTrace(tr))
				}
			}
			res.Holds = append(res.Holds, eh)
		}
		for _, w := range snap.Attempting[key] {
			a := Attempt{
				Mode:       w.Mode.String(),
				Owner:      w.Owner.String(),
				EnqueuedAt: formatTime(w.EnqueuedAt),
			}
			if full && len(w.Trace.PCs) > 0 {
				tr := exportTrace(w.Trace)
				a.Trace = &tr
			}
			res.Attempting = append(res.Attempting, a)
		}
		ex.Resources = append(ex.Resources, res)
	}
	return ex
}

// WriteExport encodes ex to w in the given format.
func WriteExport(w io.Writer, ex Export, format Format) error {
	var b []byte
	var err error
	switch format {
	case FormatXML:
		if b, err = xml.MarshalIndent(ex, "", "  "); err == nil {
			b = append([]byte(xml.Header), b...)
		}
	case FormatJSON:
		b, err = json.MarshalIndent(ex, "", "  ")
	case FormatYAML:
		b, err = yaml.Marshal(ex)
	default:
		return errors.AssertionFailedf("unhandled export format %s", format)
	}
	if err != nil {
		return errors.Wrapf(err, "encoding %s lock export", format)
	}
	if len(b) > 0 && b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	_, err = w.Write(b)
	return err
}
