package logging

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	componentKey = "component"
	requestIDKey = "request_id"
)

// Formatter renders entries as
//
//	[2006-01-02 15:04:05] [component] [LEVEL] message | key=value, key=value
//
// with fields sorted so lines are stable across runs.
type Formatter struct{}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	component := "gateway"
	if c, ok := entry.Data[componentKey].(string); ok && c != "" {
		component = c
	}

	level := strings.ToUpper(entry.Level.String())
	if level == "WARNING" {
		level = "WARN"
	}

	fmt.Fprintf(buffer, "[%s] [%s] [%s]", entry.Time.Format("2006-01-02 15:04:05"), component, level)
	if id, ok := entry.Data[requestIDKey].(string); ok && id != "" {
		fmt.Fprintf(buffer, " [%s]", id)
	}
	buffer.WriteByte(' ')
	buffer.WriteString(strings.TrimRight(entry.Message, "\r\n"))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == componentKey || k == requestIDKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i == 0 {
			buffer.WriteString(" |")
		} else {
			buffer.WriteByte(',')
		}
		fmt.Fprintf(buffer, " %s=%v", k, entry.Data[k])
	}

	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}
