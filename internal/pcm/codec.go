package pcm

import "fmt"

// CodecID names a raw PCM codec the way ffmpeg does.
type CodecID string

const (
	CodecNone     CodecID = ""
	CodecPCMS16LE CodecID = "pcm_s16le"
	CodecPCMS16BE CodecID = "pcm_s16be"
	CodecPCMS32LE CodecID = "pcm_s32le"
	CodecPCMS32BE CodecID = "pcm_s32be"
	CodecPCMF32LE CodecID = "pcm_f32le"
	CodecPCMF32BE CodecID = "pcm_f32be"
)

var codecs = map[SampleFormat][2]CodecID{
	S16: {CodecPCMS16LE, CodecPCMS16BE},
	S32: {CodecPCMS32LE, CodecPCMS32BE},
	F32: {CodecPCMF32LE, CodecPCMF32BE},
}

// CodecFor returns CodecNone for unsupported formats.
func CodecFor(f SampleFormat, e Endianness) CodecID {
	pair, ok := codecs[f]
	if !ok {
		return CodecNone
	}
	if e == BigEndian {
		return pair[1]
	}
	return pair[0]
}

// channelLayouts holds the default layout names per channel count.
var channelLayouts = map[int]string{
	1: "mono",
	2: "stereo",
	3: "3.0",
	4: "quad",
	5: "5.0",
	6: "5.1",
	7: "6.1",
	8: "7.1",
}

// DefaultChannelLayout names the default layout for n channels.
func DefaultChannelLayout(n int) string {
	if name, ok := channelLayouts[n]; ok {
		return name
	}
	return fmt.Sprintf("%dc", n)
}

// TimeBase is a rational number of seconds per timestamp tick.
type TimeBase struct {
	Num int64
	Den int64
}

func (t TimeBase) String() string { return fmt.Sprintf("%d/%d", t.Num, t.Den) }

// StreamInfo is the metadata handed to the surrounding pipeline when a
// capture stream is created.
type StreamInfo struct {
	MediaType     string   `json:"media_type"`
	SampleRate    int      `json:"sample_rate"`
	Channels      int      `json:"channels"`
	ChannelLayout string   `json:"channel_layout"`
	Codec         CodecID  `json:"codec"`
	TimeBase      TimeBase `json:"time_base"`
}

// Info builds the StreamInfo for f. The time base is one tick per sample
// frame.
func (f StreamFormat) Info() StreamInfo {
	rate := int(f.SampleRate)
	return StreamInfo{
		MediaType:     "audio",
		SampleRate:    rate,
		Channels:      f.Channels,
		ChannelLayout: DefaultChannelLayout(f.Channels),
		Codec:         f.Codec(),
		TimeBase:      TimeBase{Num: 1, Den: int64(rate)},
	}
}
