package repository

import (
	"chatty_session_server/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return wrapDBErrorf(err, "写入消息 session_id=%s", message.SessionID)
	}
	return nil
}

func (r *messageRepository) ExistsByExternalID(sessionID, externalID string) (bool, error) {
	var count int64
	err := r.db.Model(&model.Message{}).
		Where(&model.Message{SessionID: sessionID, ExternalMessageID: externalID}).
		Count(&count).Error
	if err != nil {
		return false, wrapDBErrorf(err, "查询消息 external_message_id=%s", externalID)
	}
	return count > 0, nil
}

// from / to 是保留字，条件与排序都走 gorm 的结构体条件和 clause，由方言负责加引号
func (r *messageRepository) FindRecentByContact(sessionID, contact string, limit int) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where(&model.Message{SessionID: sessionID}).
		Where(r.db.Where(&model.Message{From: contact}).Or(&model.Message{To: contact})).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, wrapDBErrorf(err, "查询历史消息 session_id=%s", sessionID)
	}
	return messages, nil
}
