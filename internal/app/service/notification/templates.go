package notification

import (
	"strings"

	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/types"
)

// Templates maps a dunning stage to the message template sent when the
// process enters it. INITIAL has none.
type Templates map[types.DunningStage]string

func DefaultTemplates() Templates {
	return Templates{
		types.DunningStageWarning1:     "dunning_warning_1",
		types.DunningStageUrgent:       "dunning_urgent",
		types.DunningStageFinalNotice:  "dunning_final_notice",
		types.DunningStageCancellation: "dunning_cancellation",
	}
}

// TemplatesFromConfig applies notifier.templates overrides. Keys are stage
// names in any case; unknown keys are ignored.
func TemplatesFromConfig(cfg *config.Config) Templates {
	t := DefaultTemplates()
	for k, v := range cfg.Notifier.Templates {
		stage := types.DunningStage(strings.ToUpper(k))
		if stage.Index() < 0 || v == "" {
			continue
		}
		t[stage] = v
	}
	return t
}

func (t Templates) For(stage types.DunningStage) (string, bool) {
	id, ok := t[stage]
	return id, ok && id != ""
}
