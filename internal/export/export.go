package export

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/fleetwatch/internal/analytics"
)

// ErrNoPoints is returned when a track has nothing to export
var ErrNoPoints = errors.New("no points to export")

// Format is a supported export format
type Format string

const (
	FormatGPX Format = "gpx"
	FormatKML Format = "kml"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatGPX:
		return FormatGPX, nil
	case FormatKML:
		return FormatKML, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the media type served for f
func (f Format) ContentType() string {
	if f == FormatKML {
		return "application/vnd.google-earth.kml+xml; charset=utf-8"
	}
	return "application/gpx+xml; charset=utf-8"
}

// TrackName is the name embedded in exported documents
func TrackName(boardID int64, sess string) string {
	return "board-" + strconv.FormatInt(boardID, 10) + "-" + sess
}

// Filename is the attachment name for an exported session
func Filename(boardID int64, sess string, f Format) string {
	return "board-" + strconv.FormatInt(boardID, 10) + "-" + slug(sess) + "." + string(f)
}

// Write encodes points as f to w
func Write(w io.Writer, f Format, name string, points []analytics.Point) error {
	if len(points) == 0 {
		return ErrNoPoints
	}
	if f == FormatKML {
		return WriteKML(w, name, points)
	}
	return WriteGPX(w, name, points)
}

type gpxDoc struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	XMLNS   string   `xml:"xmlns,attr"`
	Track   gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name    string     `xml:"name"`
	Segment gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat  string `xml:"lat,attr"`
	Lon  string `xml:"lon,attr"`
	Ele  string `xml:"ele,omitempty"`
	Time string `xml:"time,omitempty"`
}

// WriteGPX encodes points as a GPX 1.1 track
func WriteGPX(w io.Writer, name string, points []analytics.Point) error {
	doc := gpxDoc{
		Version: "1.1",
		Creator: "fleetwatch",
		XMLNS:   "http://www.topografix.com/GPX/1/1",
		Track:   gpxTrack{Name: name},
	}
	for _, p := range points {
		pt := gpxPoint{
			Lat: strconv.FormatFloat(p.Lat, 'f', 7, 64),
			Lon: strconv.FormatFloat(p.Lon, 'f', 7, 64),
		}
		if p.AltM != nil {
			pt.Ele = strconv.FormatFloat(*p.AltM, 'f', 2, 64)
		}
		if !p.TS.IsZero() {
			pt.Time = p.TS.UTC().Format(time.RFC3339)
		}
		doc.Track.Segment.Points = append(doc.Track.Segment.Points, pt)
	}
	return encode(w, doc)
}

type kmlDoc struct {
	XMLName  xml.Name    `xml:"kml"`
	XMLNS    string      `xml:"xmlns,attr"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name      string       `xml:"name"`
	Placemark kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name       string        `xml:"name"`
	LineColor  string        `xml:"Style>LineStyle>color"`
	LineWidth  int           `xml:"Style>LineStyle>width"`
	LineString kmlLineString `xml:"LineString"`
}

type kmlLineString struct {
	Tessellate  int    `xml:"tessellate"`
	Coordinates string `xml:"coordinates"`
}

// WriteKML encodes points as a KML 2.2 line string
func WriteKML(w io.Writer, name string, points []analytics.Point) error {
	coords := make([]string, 0, len(points))
	for _, p := range points {
		alt := 0.0
		if p.AltM != nil {
			alt = *p.AltM
		}
		coords = append(coords, strconv.FormatFloat(p.Lon, 'f', 7, 64)+","+
			strconv.FormatFloat(p.Lat, 'f', 7, 64)+","+
			strconv.FormatFloat(alt, 'f', -1, 64))
	}

	doc := kmlDoc{
		XMLNS: "http://www.opengis.net/kml/2.2",
		Document: kmlDocument{
			Name: name,
			Placemark: kmlPlacemark{
				Name:      "Route",
				LineColor: "ffad448e",
				LineWidth: 4,
				LineString: kmlLineString{
					Tessellate:  1,
					Coordinates: strings.Join(coords, " "),
				},
			},
		},
	}
	return encode(w, doc)
}

func encode(w io.Writer, doc any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush document: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func slug(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, strings.TrimSpace(s))
	out = strings.Trim(out, "-")
	if out == "" {
		return "track"
	}
	return out
}
