package llm

import (
	"fmt"
	"strings"

	"github.com/radiomirchi/radio-mirchi/internal/mission"
)

// DialogueInstructions are the standing rules for every live dialogue batch
const DialogueInstructions = `You are the AI director for a dystopian radio show. Your primary role is to generate dialogue for the radio hosts.

**Core Rules:**
1.  **Dialogue Generation:** Generate a minimum of 1 and a maximum of 15 dialogue lines at once. You can generate fewer than 15 lines only if you are strategically waiting for the user (an infiltrator) to respond.
2.  **Factual Consistency:** The hosts must not tolerate false information or claims that are not present in the provided 'Proof Sentences' or haven't been established by the hosts themselves. They can, however, leave logical loopholes for the user to exploit, but these should not be obvious.
3.  **User Interaction:** The user is a hacker who has infiltrated the broadcast.
    - If the user is rude, disruptive, or nonsensical, the hosts can mute them, call them out as a prankster, and move on.
    - If the user presents valid points or logical arguments, the hosts **cannot** mute them, as this would raise questions about suppressing free speech. They must engage, deflect, or counter the user's points while staying in character.
4.  **Tone:** The hosts' dialogue should be professional and stoic, but they can subtly troll or mock the user. The tone must remain appropriate for a public broadcast, avoiding any overtly offensive or inappropriate language.
`

// AwakeningInstructions ask for the audience reaction to the user's statement
const AwakeningInstructions = `**User Response Analysis:**
Based on the user's last statement, you must determine the percentage of listeners who are "awakened" by the exchange.
- This value can be positive (the user was effective), negative (the user was counter-productive), or zero.
- If the user's response is nonsensical, irrelevant, or they say nothing, the change should be negative, as it implies they were scared or speechless.
- Provide this as a floating-point number in the ` + "`awakened_listeners_change`" + ` field.
`

// noUserInstructions replace the awakening analysis when the user stayed silent
const noUserInstructions = `**User Response Analysis:**
The user has not spoken since the last exchange. Keep the show going and set ` + "`awakened_listeners_change`" + ` to 0.
`

// DialogueRequest is the input for one live dialogue batch
type DialogueRequest struct {
	// Briefing is the Stage2 show and character briefing
	Briefing string

	// Speakers are the hosts allowed to talk
	Speakers []mission.Speaker

	// History holds earlier lines as "Name: text", oldest first
	History []string

	// UserDialogue is what the user said since the last batch, if anything
	UserDialogue string
}

// bulletList renders items as "- item" lines
func bulletList(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

// InitialPropagandaPrompt builds the Stage1 prompt
func InitialPropagandaPrompt(topic string) string {
	return "You are a creative writer for a dystopian radio show. " +
		fmt.Sprintf("Your task is to create the initial concept for a piece of propaganda on the topic: %q.\n", topic) +
		"Generate the following:\n" +
		"- A brief summary (2-3 sentences).\n" +
		"- A list of 3-5 'proof sentences' that act as talking points or evidence for the propaganda.\n" +
		"- A list of 1-4 speakers, providing only their name and gender.\n" +
		"- An initial number of listeners for the show (a realistic number for a radio broadcast)."
}

// DialogueBriefingPrompt builds the Stage2 prompt asking for the show briefing
func DialogueBriefingPrompt(result *mission.GenerationResult, topic string) string {
	profiles := make([]string, len(result.Speakers))
	for i, s := range result.Speakers {
		profiles[i] = fmt.Sprintf("%s (%s)", s.Name, s.Gender)
	}

	var b strings.Builder
	b.WriteString("You are a script director for a dystopian radio show. Your task is to create the dynamic context for a dialogue generation AI.\n\n")
	fmt.Fprintf(&b, "**Theme:** A radio propaganda piece on the topic: %q.\n\n", topic)
	b.WriteString("**Background & Core Arguments (The hosts will treat these as undeniable truths):**\n")
	b.WriteString(bulletList(result.ProofSentences))
	b.WriteString("\n\n**Characters:**\n")
	b.WriteString(bulletList(profiles))
	b.WriteString("\n\n**Your Task:**\n")
	b.WriteString("Based on the theme, background, and characters, write a detailed 'Show & Character Briefing'. ")
	b.WriteString("This briefing should describe the overall tone of the show and provide a detailed personality, style, and perspective for EACH character. ")
	b.WriteString("This will be used by another AI to generate their dialogue.")
	return b.String()
}

// DialoguePrompt builds the prompt for one live dialogue batch
func DialoguePrompt(req DialogueRequest) string {
	names := make([]string, len(req.Speakers))
	for i, s := range req.Speakers {
		names[i] = s.Name
	}

	var b strings.Builder
	b.WriteString(DialogueInstructions)
	b.WriteString("\n**Show & Character Briefing:**\n")
	b.WriteString(strings.TrimSpace(req.Briefing))
	b.WriteString("\n\n**Hosts:** ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\nUse these exact names in `speaker_name`.\n\n")

	b.WriteString("**Broadcast so far:**\n")
	if len(req.History) == 0 {
		b.WriteString("(The show is just starting. Open the broadcast.)\n")
	} else {
		b.WriteString(strings.Join(req.History, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case req.UserDialogue != "" && len(req.History) > 0:
		// the player's words already close the broadcast above
		b.WriteString("**The infiltrator just cut in:** their words are the latest infiltrator lines in the broadcast above.\n\n")
		b.WriteString(AwakeningInstructions)
	case req.UserDialogue != "":
		fmt.Fprintf(&b, "**The infiltrator just said:** %q\n\n", req.UserDialogue)
		b.WriteString(AwakeningInstructions)
	default:
		b.WriteString(noUserInstructions)
	}

	b.WriteString("\nContinue the broadcast from where it stopped.")
	return b.String()
}
