package provider

import (
	"fmt"
	"strings"

	"metagen/server/internal/model"
)

func thumbnailToneStyle(tone model.Tone) string {
	switch tone {
	case model.ToneViral:
		return "Bold, high-contrast, attention-grabbing, dramatic lighting, vibrant colors, eye-catching composition"
	case model.ToneCuriosity:
		return "Intriguing, mysterious, thought-provoking, subtle visual questions, engaging imagery that sparks interest"
	case model.ToneEducational:
		return "Clean, professional, informative, clear visual hierarchy, trustworthy, organized composition"
	}
	return "Professional, clean, engaging"
}

func thumbnailPrompt(req model.ThumbnailRequest) string {
	return fmt.Sprintf(`Create a YouTube video thumbnail with the following characteristics:

Topic/Hook: %q

Style Requirements:
- %s
- 16:9 landscape composition
- High visual impact and clarity
- Leave space for a text overlay
- No text in the image itself
- One clear focal point that reads at small sizes`, req.HookText, thumbnailToneStyle(req.Tone))
}

func descriptionToneGuidance(tone model.Tone) string {
	switch tone {
	case model.ToneViral:
		return `
- Use exciting, attention-grabbing language
- Include power words and emotional triggers
- Create urgency
- Mix short, punchy sentences with longer explanations`
	case model.ToneCuriosity:
		return `
- Ask thought-provoking questions
- Tease interesting facts without giving everything away
- Use "discover", "learn", "find out" language
- Build anticipation throughout`
	case model.ToneEducational:
		return `
- Be clear, informative and professional
- Structure information logically
- Highlight key takeaways
- Include sections or timestamps when applicable`
	}
	return "- Be engaging and informative"
}

func descriptionSystemPrompt(limits model.Limits) string {
	return fmt.Sprintf(`You are a YouTube SEO specialist. Write video descriptions that maximize engagement and search discoverability, include keywords naturally and are between 300 and %d characters.

Structure every description with:
1. A compelling opening hook (the first two lines show in search results)
2. A summary of the content
3. Key points or timestamps when applicable
4. A call to action
5. A links placeholder
6. Three to five hashtags

Output plain text only, no markdown.`, limits.DescriptionMax)
}

func descriptionPrompt(req model.DescriptionRequest) string {
	var b strings.Builder
	b.WriteString("Generate a YouTube video description for:\n\n")
	switch {
	case req.HookText != "":
		fmt.Fprintf(&b, "Hook/Topic: %q\n", req.HookText)
	case req.VideoDescription != "":
		fmt.Fprintf(&b, "Video Topic: %q\n", req.VideoDescription)
	default:
		b.WriteString("Topic: (choose a compelling topic that fits the tone)\n")
	}
	if req.VideoTitle != "" {
		fmt.Fprintf(&b, "Video Title: %q\n", req.VideoTitle)
	}
	fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	if req.VideoDescription != "" && req.HookText != "" {
		fmt.Fprintf(&b, "Additional Video Context: %s\n", req.VideoDescription)
	}
	if req.AdditionalContext != "" {
		fmt.Fprintf(&b, "Additional Context: %s\n", req.AdditionalContext)
	}
	fmt.Fprintf(&b, "\nTone Guidelines:%s\n", descriptionToneGuidance(req.Tone))
	return b.String()
}

func tagsToneGuidance(tone model.Tone) string {
	switch tone {
	case model.ToneViral:
		return "Focus on trending topics, viral keywords and high-search-volume terms"
	case model.ToneCuriosity:
		return "Include question-based keywords and discovery-related terms"
	case model.ToneEducational:
		return "Focus on educational keywords, how-to terms and tutorial phrases"
	}
	return "Use relevant, high-value keywords"
}

func tagsSystemPrompt(limits model.Limits) string {
	return fmt.Sprintf(`You are a YouTube SEO specialist. Generate exactly %d video tags.
Each tag is 2-30 characters, lowercase unless a proper noun.
Mix the main topic, related topics and long-tail keywords.
Output ONLY a comma-separated list of tags.`, limits.TagsMax)
}

func tagsPrompt(req model.TagsRequest, limits model.Limits) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d YouTube tags for:\n\n", limits.TagsMax)
	fmt.Fprintf(&b, "Hook/Topic: %q\nTone: %s\n", req.HookText, req.Tone)
	if req.Description != "" {
		fmt.Fprintf(&b, "Video Description Summary: %s...\n", Truncate(req.Description, 500))
	}
	fmt.Fprintf(&b, "\nGuidelines: %s\n\nOutput format: tag1, tag2, tag3", tagsToneGuidance(req.Tone))
	return b.String()
}
