package handler

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// Trans 全局翻译器，HandleParamError 使用
var Trans ut.Translator

// recipientPattern 手机号（可带 +）或完整 JID，如 15550001111@s.whatsapp.net
var recipientPattern = regexp.MustCompile(`^\+?[0-9]{5,20}(@[a-z.]+)?$`)

// 自定义规则的提示文案
var recipientMessages = map[string]string{
	"en": "{0} must be a phone number or a WhatsApp address",
	"zh": "{0}必须是手机号或 WhatsApp 地址",
}

// InitTrans 初始化 gin 的校验器：字段名取 json tag，注册 recipient 规则和 locale 翻译
// locale 为 "zh" 或 "en"
func InitTrans(locale string) error {
	if binding.Validator == nil {
		binding.Validator = &defaultValidator{validator: validator.New()}
	}
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("recipient", validRecipient); err != nil {
		return err
	}

	enT := en.New()
	uni := ut.New(enT, zh.New(), enT)
	trans, found := uni.GetTranslator(locale)
	if !found {
		return fmt.Errorf("uni.GetTranslator(%s) failed", locale)
	}

	var err error
	switch locale {
	case "zh":
		err = zh_translations.RegisterDefaultTranslations(v, trans)
	default:
		err = en_translations.RegisterDefaultTranslations(v, trans)
	}
	if err != nil {
		return err
	}
	if err = registerRecipientTranslation(v, trans, locale); err != nil {
		return err
	}
	Trans = trans
	return nil
}

func validRecipient(fl validator.FieldLevel) bool {
	return recipientPattern.MatchString(strings.TrimSpace(fl.Field().String()))
}

func registerRecipientTranslation(v *validator.Validate, trans ut.Translator, locale string) error {
	text, ok := recipientMessages[locale]
	if !ok {
		text = recipientMessages["en"]
	}
	return v.RegisterTranslation("recipient", trans,
		func(ut ut.Translator) error {
			return ut.Add("recipient", text, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			msg, _ := ut.T("recipient", fe.Field())
			return msg
		},
	)
}

// RemoveTopStruct 去除字段名中的结构体前缀，如 "CreateSessionRequest.ownerId"
func RemoveTopStruct(fields map[string]string) map[string]string {
	res := make(map[string]string, len(fields))
	for field, err := range fields {
		res[field[strings.Index(field, ".")+1:]] = err
	}
	return res
}

// defaultValidator binding.Validator 为 nil 时的兜底实现
type defaultValidator struct {
	validator *validator.Validate
}

func (v *defaultValidator) ValidateStruct(obj interface{}) error {
	return v.validator.Struct(obj)
}

func (v *defaultValidator) Engine() interface{} {
	return v.validator
}
