// Package resolver 把入站消息及其上下文交给 webhook 或本地应答器，得到回复文本
package resolver

import (
	"time"

	"chatty_session_server/internal/model"
)

// Request webhook 请求体
type Request struct {
	Message             string             `json:"message"`
	From                string             `json:"from"`
	Chatbot             ChatbotContext     `json:"chatbot"`
	Products            []ProductContext   `json:"products"`
	KnowledgeBase       []KnowledgeContext `json:"knowledge_base"`
	ConversationHistory []HistoryEntry     `json:"conversation_history"`
}

type ChatbotContext struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CompanyName     string `json:"company_name"`
	ComplianceRules string `json:"compliance_rules"`
	Guidance        string `json:"guidance"`
}

type ProductContext struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
}

type KnowledgeContext struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// HistoryEntry 历史消息，最近的在前
type HistoryEntry struct {
	Direction string    `json:"direction"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildRequest 组装上下文；切片字段始终序列化为数组而不是 null
func BuildRequest(bot *model.Chatbot, message, from string, products []model.Product,
	docs []model.KnowledgeDocument, history []model.Message) *Request {
	req := &Request{
		Message:             message,
		From:                from,
		Products:            make([]ProductContext, 0, len(products)),
		KnowledgeBase:       make([]KnowledgeContext, 0, len(docs)),
		ConversationHistory: make([]HistoryEntry, 0, len(history)),
	}
	if bot != nil {
		req.Chatbot = ChatbotContext{
			ID:              bot.ID,
			Name:            bot.Name,
			CompanyName:     bot.CompanyName,
			ComplianceRules: bot.ComplianceRules,
			Guidance:        bot.Guidance,
		}
	}
	for _, p := range products {
		req.Products = append(req.Products, ProductContext{
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			Currency:    p.Currency,
		})
	}
	for _, d := range docs {
		req.KnowledgeBase = append(req.KnowledgeBase, KnowledgeContext{Title: d.Title, Content: d.Content})
	}
	for _, m := range history {
		req.ConversationHistory = append(req.ConversationHistory, HistoryEntry{
			Direction: string(m.Direction),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return req
}
