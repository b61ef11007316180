package resolver

import (
	"context"
	"fmt"
	"strings"
)

const maxListedProducts = 5

// KeywordResponder 根据商品名、知识库标题做关键词匹配，匹配不到时回问候语
type KeywordResponder struct{}

func (KeywordResponder) Respond(_ context.Context, req *Request) (string, error) {
	text := strings.ToLower(req.Message)

	var lines []string
	for _, p := range req.Products {
		if p.Name != "" && strings.Contains(text, strings.ToLower(p.Name)) {
			lines = append(lines, describeProduct(p))
		}
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n"), nil
	}

	for _, doc := range req.KnowledgeBase {
		if doc.Title != "" && doc.Content != "" && strings.Contains(text, strings.ToLower(doc.Title)) {
			return doc.Content, nil
		}
	}

	if len(req.Products) > 0 && mentionsCatalog(text) {
		names := make([]string, 0, maxListedProducts)
		for i, p := range req.Products {
			if i == maxListedProducts {
				break
			}
			names = append(names, p.Name)
		}
		return "Here is what we offer: " + strings.Join(names, ", ") + ". Which one would you like to know more about?", nil
	}

	return greeting(req.Chatbot), nil
}

func describeProduct(p ProductContext) string {
	line := p.Name
	if p.Description != "" {
		line += ": " + p.Description
	}
	if p.Price > 0 {
		line += fmt.Sprintf(" (%.2f %s)", p.Price, p.Currency)
	}
	return strings.TrimSpace(line)
}

func mentionsCatalog(text string) bool {
	for _, kw := range []string{"price", "product", "catalog", "menu", "offer", "buy"} {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func greeting(bot ChatbotContext) string {
	switch {
	case bot.Name != "" && bot.CompanyName != "":
		return fmt.Sprintf("Hi! I'm %s from %s. How can I help you today?", bot.Name, bot.CompanyName)
	case bot.Name != "":
		return fmt.Sprintf("Hi! I'm %s. How can I help you today?", bot.Name)
	default:
		return "Hi! How can I help you today?"
	}
}
