package convert

import (
	"encoding/xml"
	"fmt"
	"time"
)

const gpxTimeLayout = time.RFC3339

type gpxDoc struct {
	XMLName xml.Name  `xml:"gpx"`
	Xmlns   string    `xml:"xmlns,attr"`
	Version string    `xml:"version,attr"`
	Creator string    `xml:"creator,attr"`
	Meta    *gpxMeta  `xml:"metadata,omitempty"`
	Track   *gpxTrack `xml:"trk"`
}

type gpxMeta struct {
	Time string `xml:"time,omitempty"`
}

type gpxTrack struct {
	Name     string       `xml:"name,omitempty"`
	Type     string       `xml:"type,omitempty"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat  float64  `xml:"lat,attr"`
	Lon  float64  `xml:"lon,attr"`
	Ele  *float64 `xml:"ele,omitempty"`
	Time string   `xml:"time,omitempty"`
}

func encodeGPX(tr *track) ([]byte, error) {
	seg := gpxSegment{}
	for _, p := range tr.Points {
		if !p.HasPos {
			continue // GPX points are positions; non-GPS samples drop out
		}
		gp := gpxPoint{Lat: p.Lat, Lon: p.Lon}
		if p.HasEle {
			ele := p.Elevation
			gp.Ele = &ele
		}
		if !p.Time.IsZero() {
			gp.Time = p.Time.UTC().Format(gpxTimeLayout)
		}
		seg.Points = append(seg.Points, gp)
	}

	doc := gpxDoc{
		Xmlns:   "http://www.topografix.com/GPX/1/1",
		Version: "1.1",
		Creator: "fitsync",
		Track: &gpxTrack{
			Name:     tr.Name,
			Type:     tr.Sport,
			Segments: []gpxSegment{seg},
		},
	}
	if !tr.StartTime.IsZero() {
		doc.Meta = &gpxMeta{Time: tr.StartTime.UTC().Format(gpxTimeLayout)}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding gpx: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func decodeGPX(data []byte) (*track, error) {
	var doc gpxDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding gpx: %w", err)
	}

	tr := &track{}
	if doc.Track != nil {
		tr.Name = doc.Track.Name
		tr.Sport = doc.Track.Type
		for _, seg := range doc.Track.Segments {
			for _, gp := range seg.Points {
				p := point{Lat: gp.Lat, Lon: gp.Lon, HasPos: true}
				if gp.Ele != nil {
					p.Elevation = *gp.Ele
					p.HasEle = true
				}
				if gp.Time != "" {
					if t, err := time.Parse(gpxTimeLayout, gp.Time); err == nil {
						p.Time = t
					}
				}
				tr.Points = append(tr.Points, p)
			}
		}
	}
	if doc.Meta != nil && doc.Meta.Time != "" {
		if t, err := time.Parse(gpxTimeLayout, doc.Meta.Time); err == nil {
			tr.StartTime = t
		}
	}
	if tr.StartTime.IsZero() && len(tr.Points) > 0 {
		tr.StartTime = tr.Points[0].Time
	}
	if len(tr.Points) > 1 {
		tr.TotalDuration = tr.Points[len(tr.Points)-1].Time.Sub(tr.Points[0].Time).Seconds()
	}
	return tr, nil
}
