package assistant

import (
	"bufio"
	"io"
	"strings"
)

const maxFrameSize = 1 << 20

// readFrames reads server-sent events from r and calls fn with the data of
// each event. Multi-line data is joined with newlines; comments and the
// event, id and retry fields are ignored.
func readFrames(r io.Reader, fn func(data string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var data []string
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			if len(data) > 0 {
				fn(strings.Join(data, "\n"))
				data = data[:0]
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field == "data" {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}
