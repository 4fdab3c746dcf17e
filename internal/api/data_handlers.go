package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"notesapp/internal/conflict"
	"notesapp/internal/db"
	"notesapp/internal/notes"
	"notesapp/internal/response"
	"notesapp/internal/types"
	"notesapp/internal/utils"
	"notesapp/internal/validator"
)

// maxImportNotes 单次导入的笔记上限
const maxImportNotes = 1000

var noteCSVHeader = []string{"id", "title", "content", "tags", "version", "editor", "created_at", "updated_at"}

func noteCSVRow(n *db.Note) []string {
	return []string{
		n.ID,
		n.Title,
		n.Content,
		strings.Join(n.Tags.Slice(), validator.TagSeparator),
		strconv.FormatInt(n.Version, 10),
		n.Editor,
		n.CreatedAt.UTC().Format(time.RFC3339),
		n.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// handleExportNotes 导出笔记为 JSON 或 CSV（?format=csv）
func (s *Server) handleExportNotes(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	actor := actorFrom(r)

	switch format {
	case "json":
		all := []db.Note{}
		err := s.notes.Each(r.Context(), actor, func(n *db.Note) error {
			all = append(all, *n)
			return nil
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment;filename=notes.json")
		response.SuccessResponse(w, all, http.StatusOK)

	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment;filename=notes.csv")
		w.Write(utils.UTF8BOM)

		streamer := utils.NewCSVStreamer(w)
		if err := streamer.WriteHeader(noteCSVHeader); err != nil {
			s.logger.Warn("write csv header failed", zap.Error(err))
			return
		}
		// 响应头已发送，之后的错误只能记录日志
		err := s.notes.Each(r.Context(), actor, func(n *db.Note) error {
			return streamer.WriteRow(noteCSVRow(n))
		})
		if closeErr := streamer.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			s.logger.Warn("csv export aborted", zap.Int64("user_id", actor.UserID), zap.Error(err))
			return
		}
		s.logger.Info("notes exported",
			zap.Int64("user_id", actor.UserID),
			zap.String("format", format),
			zap.Int("count", streamer.RowsWritten()),
		)

	default:
		response.ErrorResponse(w, "未知的格式", http.StatusBadRequest)
	}
}

// handleImportNotes 导入笔记：JSON {"notes": [...]} 或 text/csv（表头 title,content,tags）
func (s *Server) handleImportNotes(w http.ResponseWriter, r *http.Request) {
	var inputs []types.NoteInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
		rows, err := utils.NewCSVReader(r.Body, maxImportNotes).ReadAll()
		if err != nil {
			response.ErrorResponse(w, "无效的CSV: "+err.Error(), http.StatusBadRequest)
			return
		}
		for _, row := range rows {
			var tags []string
			if row["tags"] != "" {
				tags = strings.Split(row["tags"], validator.TagSeparator)
			}
			inputs = append(inputs, types.NoteInput{Title: row["title"], Content: row["content"], Tags: tags})
		}
	} else {
		var req struct {
			Notes []types.NoteInput `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorResponse(w, "无效的请求体", http.StatusBadRequest)
			return
		}
		inputs = req.Notes
	}

	if len(inputs) > maxImportNotes {
		response.ValidationErrorResponse(w, map[string]string{"notes": "单次最多导入 " + strconv.Itoa(maxImportNotes) + " 条"})
		return
	}

	// 空标题的行被跳过
	edits := make([]notes.Edit, 0, len(inputs))
	for i := range inputs {
		in := &inputs[i]
		in.Title = strings.TrimSpace(validator.SanitizeInput(in.Title))
		if in.Title == "" {
			continue
		}
		in.Content = validator.SanitizeInput(in.Content)
		if vr := validator.ValidateNote(*in); !vr.Valid {
			s.logger.Debug("import row rejected", zap.Int("row", i+1), zap.String("reason", vr.GetFirstError()))
			fields := vr.Fields()
			fields["row"] = strconv.Itoa(i + 1)
			response.ValidationErrorResponse(w, fields)
			return
		}
		edits = append(edits, notes.Edit{Title: in.Title, Content: in.Content, Tags: conflict.NewTagSet(in.Tags...)})
	}
	if len(edits) == 0 {
		response.ValidationErrorResponse(w, map[string]string{"notes": "没有可导入的笔记"})
		return
	}

	ids, err := s.notes.Import(r.Context(), actorFrom(r), edits)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, map[string]interface{}{
		"imported": len(ids),
		"ids":      ids,
	}, http.StatusCreated)
}

type deviceView struct {
	db.Device
	Online bool `json:"online"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	devices, err := s.store.GetUserDevices(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]deviceView, len(devices))
	for i, d := range devices {
		views[i] = deviceView{Device: d, Online: s.hub.IsDeviceConnected(userID, d.DeviceID)}
	}
	response.SuccessResponse(w, views, http.StatusOK)
}

// handleRevokeDevice 删除设备记录并断开它的 WebSocket 连接
func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	deviceID := mux.Vars(r)["id"]
	if err := s.store.RevokeDevice(r.Context(), userID, deviceID); err != nil {
		s.writeError(w, err)
		return
	}
	closed := s.hub.DisconnectDevice(userID, deviceID)
	s.logger.Info("device revoked",
		zap.Int64("user_id", userID),
		zap.String("device_id", deviceID),
		zap.Int("closed_connections", closed),
	)
	response.SuccessResponse(w, map[string]interface{}{"status": "revoked", "closed_connections": closed}, http.StatusOK)
}
