package transcode

import (
	"fmt"
	"strconv"

	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

// Profile is one entry of the encoder dispatch table.
type Profile struct {
	VideoCodec string
	AudioCodec string
	// Bitrate, when set, replaces the quality factor with a fixed target.
	Bitrate string
}

var commonArgs = []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}

var profiles = map[jobs.Format]Profile{
	jobs.FormatMP4:  {VideoCodec: "libx264", AudioCodec: "aac"},
	jobs.FormatMOV:  {VideoCodec: "libx264", AudioCodec: "aac"},
	jobs.FormatMKV:  {VideoCodec: "libx264", AudioCodec: "libmp3lame"},
	jobs.FormatAVI:  {VideoCodec: "libx264", AudioCodec: "libmp3lame"},
	jobs.FormatWebM: {VideoCodec: "libvpx", AudioCodec: "libopus", Bitrate: "1M"},
}

// ProfileFor returns the encoder profile for an output format.
func ProfileFor(format jobs.Format) (Profile, error) {
	p, ok := profiles[format]
	if !ok {
		return Profile{}, fmt.Errorf("no encoder profile for format %q", format)
	}
	return p, nil
}

// Args builds the ffmpeg argument list converting input into output.
func (p Profile) Args(input, output string, quality int) []string {
	args := append([]string{}, commonArgs...)
	args = append(args, "-i", input, "-c:v", p.VideoCodec)
	if p.Bitrate != "" {
		args = append(args, "-b:v", p.Bitrate)
	} else {
		args = append(args, "-crf", strconv.Itoa(quality))
	}
	args = append(args, "-c:a", p.AudioCodec, output)
	return args
}
