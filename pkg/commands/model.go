package commands

import (
	"context"

	"github.com/jbdamask/mcpchat/pkg/ui"
)

// ModelCommand switches the model used for the next turn. With an
// argument it selects that id; without one it opens a picker.
type ModelCommand struct{}

func (ModelCommand) Name() string { return "model" }

func (ModelCommand) Description() string { return "Switch model" }

func (ModelCommand) Execute(ctx context.Context, state *State, args string) (string, error) {
	modelID := args
	if modelID == "" {
		if state.Pick == nil {
			return "Current model: " + state.Model + "\n", nil
		}
		models := state.Providers.Models()
		items := make([]ui.Item, len(models))
		for i, m := range models {
			items[i] = ui.Item{ID: m.ID, Label: m.APIModel, Detail: m.Provider, Current: m.ID == state.Model}
		}
		picked, ok, err := state.Pick("Select Model", items)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		modelID = picked
	}

	if _, _, err := state.Providers.Resolve(modelID); err != nil {
		return "", err
	}
	if modelID == state.Model {
		return "Already using " + modelID + "\n", nil
	}
	state.Model = modelID
	return "Switched to " + modelID + "\n", nil
}
