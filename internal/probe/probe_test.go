package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVideo = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001", "duration": "12.512", "bit_rate": "4000000"},
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2,
     "duration": "12.600", "bit_rate": "128000", "tags": {"language": "eng"}}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.600000", "size": "6500000",
             "bit_rate": "4127000", "nb_streams": 2, "tags": {"TITLE": "clip"}}
}`

func TestParseOutput(t *testing.T) {
	r, err := parseOutput([]byte(sampleVideo))
	require.NoError(t, err)

	vs := r.VideoStream()
	require.NotNil(t, vs)
	assert.Equal(t, 1920, vs.Width)
	assert.Equal(t, 1080, vs.Height)
	assert.InDelta(t, 29.97, ParseFrameRate(vs.AvgFrameRate), 0.01)

	as := r.AudioStream()
	require.NotNil(t, as)
	assert.Equal(t, int64(48000), ParseInt(as.SampleRate))

	assert.InDelta(t, 12.6, r.DurationSeconds(), 1e-9)
	assert.Equal(t, int64(4127000), r.BitrateBps())
	assert.Equal(t, "clip", r.Tag("title"))
	assert.Equal(t, "eng", r.Tag("language"))
	assert.Empty(t, r.Tag("artist"))
}

func TestParseOutput_Fallbacks(t *testing.T) {
	r, err := parseOutput([]byte(`{
	  "streams": [
	    {"codec_type": "audio", "duration": "3.5", "bit_rate": "96000"},
	    {"codec_type": "data", "duration": "N/A", "bit_rate": "N/A"}
	  ],
	  "format": {"format_name": "ogg", "duration": "N/A"}
	}`))
	require.NoError(t, err)

	assert.Nil(t, r.VideoStream())
	assert.InDelta(t, 3.5, r.DurationSeconds(), 1e-9)
	assert.Equal(t, int64(96000), r.BitrateBps())
}

func TestParseOutput_DisplayMatrix(t *testing.T) {
	r, err := parseOutput([]byte(`{
	  "streams": [
	    {"codec_type": "video", "width": 1920, "height": 1080,
	     "side_data_list": [{"side_data_type": "Display Matrix", "displaymatrix": "...", "rotation": -90}]}
	  ],
	  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
	}`))
	require.NoError(t, err)

	vs := r.VideoStream()
	require.NotNil(t, vs)
	assert.Equal(t, 90, vs.Rotation())
}

func TestStream_Rotation(t *testing.T) {
	tests := []struct {
		name   string
		stream Stream
		want   int
	}{
		{"none", Stream{}, 0},
		{"display matrix -90", Stream{SideDataList: []SideData{{SideDataType: "Display Matrix", Rotation: -90}}}, 90},
		{"display matrix 90", Stream{SideDataList: []SideData{{SideDataType: "Display Matrix", Rotation: 90}}}, 270},
		{"display matrix 180", Stream{SideDataList: []SideData{{SideDataType: "Display Matrix", Rotation: 180}}}, 180},
		{"other side data", Stream{SideDataList: []SideData{{SideDataType: "CPB properties"}}}, 0},
		{"legacy tag", Stream{Tags: map[string]string{"rotate": "90"}}, 90},
		{"legacy tag 270", Stream{Tags: map[string]string{"rotate": "270"}}, 270},
		{"matrix wins over tag", Stream{
			Tags:         map[string]string{"rotate": "180"},
			SideDataList: []SideData{{SideDataType: "Display Matrix", Rotation: -90}},
		}, 90},
		{"garbage tag", Stream{Tags: map[string]string{"rotate": "sideways"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stream.Rotation())
		})
	}
}

func TestParseOutput_Unreadable(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"garbage", "not json"},
		{"empty object", "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOutput([]byte(tt.output))
			assert.ErrorIs(t, err, ErrUnreadable)
		})
	}
}

func TestParseHelpers(t *testing.T) {
	assert.Zero(t, ParseFrameRate("0/0"))
	assert.Zero(t, ParseFrameRate(""))
	assert.Equal(t, 25.0, ParseFrameRate("25/1"))
	assert.Zero(t, ParseDuration("N/A"))
	assert.Zero(t, ParseDuration("-1"))
	assert.Zero(t, ParseInt("abc"))
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"valid path", "/tmp/video.mp4", nil},
		{"valid path with spaces", "/tmp/my video.mp4", nil},
		{"empty path", "", ErrEmptyPath},
		{"null byte", "/tmp/\x00video.mp4", ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePath(%q) = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestFFprobe_RejectsBadPathBeforeExec(t *testing.T) {
	f := New("/nonexistent/ffprobe")
	_, err := f.Probe(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyPath)
	assert.Equal(t, "/nonexistent/ffprobe", f.Binary())
	assert.Equal(t, "ffprobe", New("").Binary())
}
