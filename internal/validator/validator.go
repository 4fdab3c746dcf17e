package validator

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"notesapp/internal/types"
)

const (
	MaxNoteTitle       = 200
	MaxNoteContent     = 100000
	MaxTagName         = 50
	MaxTagsPerNote     = 20
	MaxTaskTitle       = 200
	MaxTaskDescription = 5000
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	upperRegex   = regexp.MustCompile(`[A-Z]`)
	lowerRegex   = regexp.MustCompile(`[a-z]`)
	digitRegex   = regexp.MustCompile(`[0-9]`)
	specialRegex = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>\/?]`)
	colorRegex   = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// IsValidEmail 使用正则表达式验证邮箱格式
func IsValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// SanitizeInput 移除控制字符（保留换行和制表符）
func SanitizeInput(input string) string {
	var result strings.Builder
	for _, r := range input {
		if r == '\n' || r == '\t' || (r >= 32 && r != 127) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ValidatePassword 检查密码强度
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("密码至少需要 8 个字符")
	}

	hasUpper := upperRegex.MatchString(password)
	hasLower := lowerRegex.MatchString(password)
	hasDigit := digitRegex.MatchString(password)
	hasSpecial := specialRegex.MatchString(password)

	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return fmt.Errorf("密码必须包含大写字母、小写字母、数字和特殊字符")
	}

	return nil
}

// ValidateNote 校验笔记标题、内容和标签
func ValidateNote(in types.NoteInput) *types.ValidationResult {
	vr := types.NewValidationResult()
	vr.Add(
		types.RequiredField("title", "标题", strings.TrimSpace(in.Title)),
		types.ValidateMaxLength("title", "标题", in.Title, MaxNoteTitle),
	)
	if utf8.RuneCountInString(in.Content) > MaxNoteContent {
		vr.AddError("content", fmt.Sprintf("内容不能超过%d个字符", MaxNoteContent), nil)
	}
	vr.Add(ValidateTags(in.Tags)...)
	return vr
}

// TagSeparator 分隔 CSV 单元格中的多个标签，因此不能出现在标签名中
const TagSeparator = ";"

// ValidateTags 校验标签数量、长度和字符
func ValidateTags(tags []string) []*types.ValidationError {
	var errs []*types.ValidationError
	if len(tags) > MaxTagsPerNote {
		errs = append(errs, &types.ValidationError{Field: "tags", Message: fmt.Sprintf("最多 %d 个标签", MaxTagsPerNote)})
	}
	for _, t := range tags {
		if utf8.RuneCountInString(strings.TrimSpace(t)) > MaxTagName {
			errs = append(errs, &types.ValidationError{Field: "tags", Message: fmt.Sprintf("标签不能超过%d个字符", MaxTagName), Value: t})
			break
		}
		if strings.Contains(t, TagSeparator) {
			errs = append(errs, &types.ValidationError{Field: "tags", Message: "标签不能包含 " + TagSeparator, Value: t})
			break
		}
	}
	return errs
}

// IsValidTagColor 颜色为空或 #RRGGBB
func IsValidTagColor(color string) bool {
	return color == "" || colorRegex.MatchString(color)
}

// ValidateTask 校验任务输入（需先调用 Defaults）
func ValidateTask(in types.TaskInput) *types.ValidationResult {
	vr := types.NewValidationResult()
	vr.Add(
		types.RequiredField("title", "标题", strings.TrimSpace(in.Title)),
		types.ValidateMaxLength("title", "标题", in.Title, MaxTaskTitle),
		types.ValidateMaxLength("description", "描述", in.Description, MaxTaskDescription),
		types.ValidateOneOf("status", "状态", in.Status, types.AllStatuses),
		types.ValidateOneOf("priority", "优先级", in.Priority, types.AllPriorities),
	)
	if in.DueAt != "" {
		if _, err := time.Parse(time.RFC3339, in.DueAt); err != nil {
			vr.AddError("due_at", "截止时间必须是 RFC3339 格式", in.DueAt)
		}
	}
	return vr
}
