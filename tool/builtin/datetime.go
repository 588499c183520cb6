package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
	"github.com/no-ai-labs/spice-go/tool"
)

// NewDatetime builds a tool reporting the current time in a requested
// format and timezone.
func NewDatetime() tool.Tool {
	s := tool.NewSchema(map[string]tool.Parameter{
		"format": {
			Type:        "string",
			Description: "Go reference layout or one of rfc3339, unix, date, time",
			Default:     "rfc3339",
		},
		"timezone": {
			Type:        "string",
			Description: "IANA timezone name, defaults to UTC",
			Default:     "UTC",
		},
	})

	return tool.New("datetime", "returns the current date and time", s,
		func(ctx context.Context, params map[string]any) (schema.ToolResult, error) {
			tz := fmt.Sprintf("%v", params["timezone"])
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return schema.ToolResult{}, result.Validation(
					"unknown timezone", "timezone", "string", tz).WithCause(err)
			}

			now := time.Now().In(loc)
			var rendered string
			switch format := fmt.Sprintf("%v", params["format"]); format {
			case "rfc3339":
				rendered = now.Format(time.RFC3339)
			case "unix":
				rendered = fmt.Sprintf("%d", now.Unix())
			case "date":
				rendered = now.Format("2006-01-02")
			case "time":
				rendered = now.Format("15:04:05")
			default:
				rendered = now.Format(format)
			}

			return schema.ToolResult{
				Status:   schema.ToolStatusSuccess,
				Result:   rendered,
				Metadata: map[string]any{"timezone": tz},
			}, nil
		})
}
