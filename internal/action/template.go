package action

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/austin-smith/fusion-bridge-sub010/internal/facts"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

var templatePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ResolveTemplates returns a copy of params with every {{path}} placeholder
// replaced from the trigger context. Unknown paths render as "".
func ResolveTemplates(params models.ActionParams, triggerCtx facts.FactMap) models.ActionParams {
	if params == nil {
		return nil
	}
	return params.ResolveTemplates(func(s string) string {
		return Render(s, triggerCtx)
	})
}

// Render resolves the placeholders of a single string
func Render(s string, triggerCtx facts.FactMap) string {
	if s == "" {
		return s
	}
	return templatePattern.ReplaceAllStringFunc(s, func(m string) string {
		path := templatePattern.FindStringSubmatch(m)[1]
		v, ok := triggerCtx.LookupPath(path)
		if !ok {
			return ""
		}
		return stringify(v)
	})
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
