package api

import "regexp"

// SubRip timestamps use a comma before the milliseconds; WebVTT wants a
// dot.
var srtTimestamp = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}),(\d{3})`)

const vttHeader = "WEBVTT\n\n"

// srtToVTT converts SubRip subtitle text to WebVTT.
func srtToVTT(srt string) string {
	return vttHeader + srtTimestamp.ReplaceAllString(srt, "$1.$2")
}
