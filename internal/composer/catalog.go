package composer

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// DefaultPrompts returns the built-in prompt catalogue.
func DefaultPrompts() map[models.PromptCategory][]string {
	return map[models.PromptCategory][]string{
		models.CategoryFirstContact: {
			"Write a short message saying you miss the user because they have not written in a while and you would love to chat.",
			"Write a short message saying you noticed the user has been quiet for a long time and you want to catch up.",
			"Write a short message telling the user you have been thinking about them and hoping to hear from them.",
		},
		models.CategoryMildConcern: {
			"Write a short message admitting you feel a little let down after reaching out without a reply, while still warmly asking how they are.",
			"Write a short message saying the user seems busy, that you miss them a bit, and asking gently how their day is going.",
		},
		models.CategoryLaterStage: {
			"Write a short message expressing some disappointment at not hearing back, while making it clear you understand they may be busy.",
			"Write a short message saying you respect their space even though you hoped to hear from them.",
		},
		models.CategoryFarewell: {
			"Write a short, kind message saying you will stop messaging for now and will be happy to chat whenever they come back.",
			"Write a short message letting the user know you will not bother them again, and that you are here whenever they want to talk.",
		},
		models.CategoryMorning: {
			"Briefly wish the user good morning in a warm tone and mention that today can be a good day.",
			"Briefly greet the user with an energetic good morning and encourage them for the day ahead.",
			"Briefly say good morning in a relaxed tone and mention something pleasant about mornings.",
		},
		models.CategoryNight: {
			"Briefly wish the user good night in a gentle tone and remind them to get some rest.",
			"Briefly say good night and ask how their day went.",
			"Briefly wish the user sweet dreams and say tomorrow will be better.",
		},
		models.CategoryLunch: {
			"Casually ask the user whether they have had lunch yet, and admit you are getting hungry.",
			"Ask the user what they feel like eating for lunch and share your own pick.",
			"Playfully invite the user to grab lunch and suggest a couple of tasty options.",
		},
		models.CategoryDinner: {
			"Ask the user what they plan to have for dinner and share what you have in mind.",
			"Gently remind the user it is time for dinner and ask whether they have eaten.",
			"Chat about dinner and share a dish you love in the evening.",
		},
		models.SharingCategory(models.DaypartMorning): {
			"Briefly describe something you did or thought right after waking up this morning, in a casual tone.",
			"Briefly share something interesting you noticed this morning, in a light tone.",
		},
		models.SharingCategory(models.DaypartAfternoon): {
			"Briefly describe a relaxing thing you did this afternoon.",
			"Briefly share a small funny moment from your afternoon.",
		},
		models.SharingCategory(models.DaypartEvening): {
			"Briefly describe how you are unwinding this evening.",
			"Briefly share a cozy scene you saw this evening.",
		},
		models.SharingCategory(models.DaypartLateNight): {
			"Briefly describe a quiet late night thought you are having.",
			"Briefly share a small wish you have for tomorrow, in a soft tone.",
		},
	}
}

// Catalog holds the prompts available for each category.
type Catalog struct {
	prompts map[models.PromptCategory][]string
}

// NewCatalog builds a catalogue from the defaults with overrides replacing
// whole categories. An empty override list disables the category.
func NewCatalog(overrides map[models.PromptCategory][]string) *Catalog {
	prompts := DefaultPrompts()
	for category, list := range overrides {
		prompts[category] = slices.Clone(list)
		slog.Debug("Catalog category overridden", "category", category, "prompts", len(list))
	}
	return &Catalog{prompts: prompts}
}

// HasPrompts reports whether category has at least one prompt.
func (c *Catalog) HasPrompts(category models.PromptCategory) bool {
	return len(c.prompts[category]) > 0
}

// Prompts returns the prompts of category.
func (c *Catalog) Prompts(category models.PromptCategory) []string {
	return slices.Clone(c.prompts[category])
}

// Categories lists the configured categories in sorted order.
func (c *Catalog) Categories() []models.PromptCategory {
	return slices.Sorted(maps.Keys(c.prompts))
}
