package repository

import (
	"chatty_session_server/internal/model"

	"gorm.io/gorm"
)

type chatbotRepository struct {
	db *gorm.DB
}

func NewChatbotRepository(db *gorm.DB) ChatbotRepository {
	return &chatbotRepository{db: db}
}

func (r *chatbotRepository) FindByID(id string) (*model.Chatbot, error) {
	var bot model.Chatbot
	if err := r.db.Where("id = ?", id).First(&bot).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询机器人 id=%s", id)
	}
	return &bot, nil
}

func (r *chatbotRepository) FindProducts(chatbotID string, limit int) ([]model.Product, error) {
	var products []model.Product
	if err := r.db.Where("chatbot_id = ?", chatbotID).Order("name").Limit(limit).Find(&products).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询商品 chatbot_id=%s", chatbotID)
	}
	return products, nil
}

func (r *chatbotRepository) FindKnowledge(chatbotID string, limit int) ([]model.KnowledgeDocument, error) {
	var docs []model.KnowledgeDocument
	if err := r.db.Where("chatbot_id = ?", chatbotID).Order("created_at DESC").Limit(limit).Find(&docs).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询知识库 chatbot_id=%s", chatbotID)
	}
	return docs, nil
}
