package narrator

import (
	"strings"
	"testing"

	"github.com/mrwolf/adventure-server/internal/models"
)

func TestBuildSystemPrompt(t *testing.T) {
	game := testGame()
	game.Language = "Portuguese"

	p := BuildSystemPrompt(game, "The priest is the final boss.")

	for _, want := range []string{
		"interactive horror text adventure",
		"The priest is the final boss.",
		"Never reveal hidden lore",
		"health, sanity",
		"every stat is set to 100",
		"Respond in the Portuguese language.",
		"OUTPUT FORMAT (JSON)",
		"world_state",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}

	if p != BuildSystemPrompt(game, "The priest is the final boss.") {
		t.Error("system prompt should be deterministic")
	}
}

func TestBuildUserPromptHistory(t *testing.T) {
	state := models.NewGameState([]string{"health", "sanity"}, 100)

	empty := BuildUserPrompt("look", state.Snapshot(), nil, "")
	if !strings.Contains(empty, "None yet.") {
		t.Error("empty history should read None yet.")
	}
	if !strings.Contains(empty, "No summary yet.") {
		t.Error("missing summary should read No summary yet.")
	}
	if !strings.Contains(empty, `"world_state":"beginning"`) {
		t.Errorf("snapshot missing from prompt: %s", empty)
	}

	log := []models.TurnRecord{
		{Turn: 0, Narrator: "intro"},
		{Turn: 1, Player: "a", Narrator: "A"},
		{Turn: 2, Player: "b", Narrator: "B"},
		{Turn: 3, Player: "c", Narrator: "C"},
	}
	p := BuildUserPrompt("d", state.Snapshot(), log, "recap")

	if strings.Contains(p, "intro") {
		t.Error("only the last three records belong in the prompt")
	}
	for _, want := range []string{
		"Player action: d",
		"Turn 1: Player -> a | Narrator -> A",
		"Turn 3: Player -> c | Narrator -> C",
		"Compact summary: recap",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}

func TestBuildLorePrompt(t *testing.T) {
	game := testGame()
	system, user := BuildLorePrompt(game)

	if !strings.Contains(system, "in the English language") {
		t.Errorf("system = %q", system)
	}
	for _, want := range []string{"(100 words)", "maximum of 2 NPCs and 3 items", "final boss", "plot twist", "Seed: A crypt beneath the chapel."} {
		if !strings.Contains(user, want) {
			t.Errorf("lore prompt missing %q", want)
		}
	}
}

func TestBuildIntroPrompt(t *testing.T) {
	state := models.NewGameState([]string{"health", "sanity"}, 100)
	p := BuildIntroPrompt(testGame(), state.Snapshot(), "secret")

	if !strings.Contains(p, "secret") || !strings.Contains(p, "first move") {
		t.Errorf("intro prompt = %s", p)
	}
}

func TestBuildSummaryPrompt(t *testing.T) {
	log := []models.TurnRecord{{Turn: 4, Player: "run", Narrator: "You run."}}

	_, user := BuildSummaryPrompt("", log)
	if user != "Turn 4 - Player: run | Narrator: You run." {
		t.Errorf("user = %q", user)
	}

	system, user := BuildSummaryPrompt("Earlier recap.", log)
	if !strings.HasPrefix(user, "Previous recap: Earlier recap.") {
		t.Errorf("user = %q", user)
	}
	if !strings.Contains(system, "under 120 words") {
		t.Errorf("system = %q", system)
	}
}
