package disc

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// cdparanoia -Q prints one line per track:
//
//  1. 16400 [03:38.50]        0 [00:00.00]    no   no  2
var tocLineRe = regexp.MustCompile(`^\s*(\d+)\.\s+(\d+)\s+\[(\d+):(\d+)\.(\d+)\]`)

var tocTotalRe = regexp.MustCompile(`TOTAL\s+(\d+)`)

// parseTOC extracts the track list from cdparanoia -Q output. End
// sectors come from the next track's start; the last track falls back
// to the TOTAL line, then to its own duration.
func parseTOC(output string) []Track {
	type rawTrack struct {
		number      int
		startSector int
		duration    time.Duration
	}
	var raw []rawTrack

	for _, line := range strings.Split(output, "\n") {
		m := tocLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		number, _ := strconv.Atoi(m[1])
		start, _ := strconv.Atoi(m[2])
		mins, _ := strconv.Atoi(m[3])
		secs, _ := strconv.Atoi(m[4])
		frames, _ := strconv.Atoi(m[5])

		dur := time.Duration(mins)*time.Minute +
			time.Duration(secs)*time.Second +
			time.Duration(frames)*time.Second/sectorsPerSecond
		raw = append(raw, rawTrack{number: number, startSector: start, duration: dur})
	}

	tracks := make([]Track, 0, len(raw))
	for i, r := range raw {
		var end int
		switch {
		case i < len(raw)-1:
			end = raw[i+1].startSector - 1
		default:
			if m := tocTotalRe.FindStringSubmatch(output); m != nil {
				end, _ = strconv.Atoi(m[1])
			} else {
				end = r.startSector + int(r.duration*sectorsPerSecond/time.Second)
			}
		}
		tracks = append(tracks, Track{
			Number:        r.number,
			StartSector:   r.startSector,
			EndSector:     end,
			LengthSectors: end - r.startSector + 1,
			Duration:      r.duration,
			Filename:      fmt.Sprintf("track%02d.wav", r.number),
		})
	}
	return tracks
}

var cdtextTrackRe = regexp.MustCompile(`^CD-TEXT for Track\s+(\d+):`)

// cdText is the metadata block parsed from cd-info output.
type cdText struct {
	discTitle   string
	discArtist  string
	trackTitles map[int]string
}

// parseCDText reads cd-info's CD-TEXT sections: a disc block followed
// by per-track blocks, each with TITLE/PERFORMER lines.
func parseCDText(output string) cdText {
	text := cdText{trackTitles: map[int]string{}}
	currentTrack := 0 // 0 means the disc block

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := cdtextTrackRe.FindStringSubmatch(line); m != nil {
			currentTrack, _ = strconv.Atoi(m[1])
			continue
		}
		if strings.HasPrefix(line, "CD-TEXT for Disc:") {
			currentTrack = 0
			continue
		}

		switch {
		case strings.HasPrefix(line, "TITLE:"):
			title := trimCDTextValue(line)
			if currentTrack > 0 {
				text.trackTitles[currentTrack] = title
			} else if text.discTitle == "" {
				text.discTitle = title
			}
		case strings.HasPrefix(line, "PERFORMER:"):
			if text.discArtist == "" {
				text.discArtist = trimCDTextValue(line)
			}
		}
	}
	return text
}

func trimCDTextValue(line string) string {
	_, v, _ := strings.Cut(line, ":")
	return strings.Trim(strings.TrimSpace(v), "'\"")
}

func (t cdText) empty() bool {
	return t.discTitle == "" && t.discArtist == "" && len(t.trackTitles) == 0
}

// discID derives a stable identifier from the TOC geometry. Two
// pressings of the same disc share start sectors and lengths, which
// is what resume state should key on.
func discID(tracks []Track) string {
	if len(tracks) == 0 {
		return ""
	}
	h := sha1.New()
	for _, t := range tracks {
		fmt.Fprintf(h, "%d:%d:%d;", t.Number, t.StartSector, t.EndSector)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
