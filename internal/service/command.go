package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/room"
	"github.com/221fa04357-prog/connect-pro/internal/tasks"
)

// 会中命令类型
const (
	CmdMute              = "mute"
	CmdUnmute            = "unmute"
	CmdMuteAll           = "mute_all"
	CmdUnmuteAll         = "unmute_all"
	CmdToggleVideo       = "toggle_video"
	CmdRaiseHand         = "raise_hand"
	CmdLowerHand         = "lower_hand"
	CmdPin               = "pin"
	CmdUnpin             = "unpin"
	CmdSpotlight         = "spotlight"
	CmdUnspotlight       = "unspotlight"
	CmdMakeHost          = "make_host"
	CmdMakeCoHost        = "make_cohost"
	CmdRevokeHost        = "revoke_host"
	CmdRevokeCoHost      = "revoke_cohost"
	CmdAdmit             = "admit"
	CmdDeny              = "deny"
	CmdRemove            = "remove"
	CmdExtendTime        = "extend_time"
	CmdReaction          = "reaction"
	CmdToggleRecording   = "toggle_recording"
	CmdToggleScreenShare = "toggle_screen_share"
	CmdViewMode          = "view_mode"
	CmdChat              = "chat"
	CmdTypingStart       = "typing_start"
	CmdTypingStop        = "typing_stop"
	CmdMarkRead          = "mark_read"
	CmdChatTab           = "chat_tab"
)

// Command 是从客户端消息中解析出的命令
type Command struct {
	Type        string
	Target      string
	Emoji       string
	Minutes     int
	Mode        string
	Content     string
	ChatType    string
	RecipientID string
	Tab         string
}

// ParseCommand 用 gjson 读取客户端消息中的字段，不做完整的反序列化。
func ParseCommand(raw []byte) (Command, error) {
	if !gjson.ValidBytes(raw) {
		return Command{}, fmt.Errorf("%w: malformed json", ErrInvalidCommand)
	}
	res := gjson.GetManyBytes(raw, "type", "target", "emoji", "minutes", "mode", "content", "chatType", "recipientId", "tab")
	cmd := Command{
		Type:        strings.TrimSpace(res[0].String()),
		Target:      res[1].String(),
		Emoji:       res[2].String(),
		Minutes:     int(res[3].Int()),
		Mode:        res[4].String(),
		Content:     res[5].String(),
		ChatType:    res[6].String(),
		RecipientID: res[7].String(),
		Tab:         res[8].String(),
	}
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("%w: missing type", ErrInvalidCommand)
	}
	return cmd, nil
}

// CommandService 执行 WebSocket 客户端发来的会中命令。
// 权限按参会者的有效角色判断，状态变化由房间的 Store 发布到总线上。
type CommandService struct {
	enqueuer tasks.Enqueuer
}

// NewCommandService 创建 CommandService。enqueuer 为 nil 时聊天消息不归档。
func NewCommandService(enqueuer tasks.Enqueuer) *CommandService {
	return &CommandService{enqueuer: enqueuer}
}

// actor 是发出命令的参会者
type actor struct {
	id   string
	role domain.Role
}

func (a actor) moderator() bool {
	return a.role == domain.RoleHost || a.role == domain.RoleCoHost
}

// Process 解析并执行一条命令，返回命令类型。
func (s *CommandService) Process(ctx context.Context, r *room.Room, actorID string, raw []byte) (string, error) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		return "", err
	}
	return cmd.Type, s.Execute(ctx, r, actorID, cmd)
}

// Execute 执行已解析的命令
func (s *CommandService) Execute(ctx context.Context, r *room.Room, actorID string, cmd Command) error {
	logCtx := logrus.WithFields(logrus.Fields{
		"meeting_id":     r.ID,
		"participant_id": actorID,
		"command":        cmd.Type,
	})
	role, ok := r.Participants.EffectiveRole(actorID)
	if !ok {
		return ErrNotInMeeting
	}
	a := actor{id: actorID, role: role}
	target := cmd.Target
	if target == "" {
		target = actorID
	}

	err := s.dispatch(ctx, r, a, target, cmd)
	if err != nil {
		logCtx.WithError(err).Debug("Command rejected")
		return err
	}
	logCtx.WithField("target", target).Debug("Command applied")
	return nil
}

func (s *CommandService) dispatch(ctx context.Context, r *room.Room, a actor, target string, cmd Command) error {
	p := r.Participants
	m := r.Meeting

	switch cmd.Type {
	case CmdMute:
		if target != a.id && !a.moderator() {
			return ErrForbidden
		}
		return p.MuteParticipant(target)

	case CmdUnmute:
		if target != a.id {
			if !a.moderator() {
				return ErrForbidden
			}
		} else if !a.moderator() && !m.Settings().AllowParticipantsToUnmute {
			return ErrForbidden
		}
		return p.UnmuteParticipant(target)

	case CmdMuteAll, CmdUnmuteAll:
		if !a.moderator() {
			return ErrForbidden
		}
		if cmd.Type == CmdMuteAll {
			p.MuteAll()
		} else {
			p.UnmuteAll()
		}
		return nil

	case CmdToggleVideo:
		if target != a.id {
			return ErrForbidden
		}
		_, err := p.ToggleVideo(target)
		return err

	case CmdRaiseHand:
		_, err := p.ToggleHandRaise(a.id)
		return err

	case CmdLowerHand:
		if target != a.id && !a.moderator() {
			return ErrForbidden
		}
		return p.LowerHand(target)

	case CmdPin, CmdSpotlight:
		if !a.moderator() {
			return ErrForbidden
		}
		if cmd.Target == "" {
			return fmt.Errorf("%w: target required", ErrInvalidCommand)
		}
		if cmd.Type == CmdPin {
			return p.Pin(target)
		}
		return p.Spotlight(target)

	case CmdUnpin, CmdUnspotlight:
		if !a.moderator() {
			return ErrForbidden
		}
		if cmd.Type == CmdUnpin {
			p.Unpin()
		} else {
			p.Unspotlight()
		}
		return nil

	case CmdMakeHost:
		if a.role != domain.RoleHost {
			return ErrForbidden
		}
		return p.MakeHost(target)

	case CmdMakeCoHost, CmdRevokeCoHost:
		if a.role != domain.RoleHost {
			return ErrForbidden
		}
		if cmd.Target == "" {
			return fmt.Errorf("%w: target required", ErrInvalidCommand)
		}
		if cmd.Type == CmdMakeCoHost {
			return p.MakeCoHost(target)
		}
		return p.RevokeCoHost(target)

	case CmdRevokeHost:
		if a.id != m.OriginalHostID() {
			return ErrForbidden
		}
		if cmd.Target == "" {
			target = m.HostID()
		}
		return p.RevokeHost(target)

	case CmdAdmit:
		if !a.moderator() {
			return ErrForbidden
		}
		admitted, err := p.AdmitFromWaitingRoom(cmd.Target)
		if err != nil {
			return err
		}
		if !admitted {
			return ErrNotInMeeting
		}
		return nil

	case CmdDeny:
		if !a.moderator() {
			return ErrForbidden
		}
		if !p.DenyFromWaitingRoom(cmd.Target) {
			return ErrNotInMeeting
		}
		return nil

	case CmdRemove:
		if !a.moderator() || target == a.id {
			return ErrForbidden
		}
		if err := p.RemoveParticipant(target); err != nil {
			return err
		}
		r.Chat.RemoveTypingUser(target)
		r.Chat.Forget(target)
		return nil

	case CmdExtendTime:
		if !a.moderator() {
			return ErrForbidden
		}
		return m.ExtendMeetingTime(cmd.Minutes)

	case CmdReaction:
		if strings.TrimSpace(cmd.Emoji) == "" {
			return fmt.Errorf("%w: emoji required", ErrInvalidCommand)
		}
		m.AddReaction(a.id, cmd.Emoji)
		return nil

	case CmdToggleRecording:
		if !a.moderator() {
			return ErrForbidden
		}
		_, err := m.ToggleRecording()
		return err

	case CmdToggleScreenShare:
		if !a.moderator() && !m.Settings().AllowParticipantsToShareScreen {
			return ErrForbidden
		}
		_, err := m.ToggleScreenShare()
		return err

	case CmdViewMode:
		if !a.moderator() {
			return ErrForbidden
		}
		return m.SetViewMode(domain.ViewMode(cmd.Mode))

	case CmdChat:
		return s.sendChat(ctx, r, a, cmd)

	case CmdTypingStart:
		r.Chat.AddTypingUser(a.id)
		return nil

	case CmdTypingStop:
		r.Chat.RemoveTypingUser(a.id)
		return nil

	case CmdMarkRead:
		r.Chat.MarkAsRead(a.id)
		return nil

	case CmdChatTab:
		return r.Chat.SetActiveTab(a.id, domain.ChatType(cmd.Tab))
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmd.Type)
}

func (s *CommandService) sendChat(ctx context.Context, r *room.Room, a actor, cmd Command) error {
	sender, ok := r.Participants.Participant(a.id)
	if !ok {
		return ErrNotInMeeting
	}
	typ := domain.ChatType(cmd.ChatType)
	if typ == domain.ChatPrivate {
		if _, ok := r.Participants.Participant(cmd.RecipientID); !ok {
			return ErrNotInMeeting
		}
	}
	msg, err := r.Chat.SendMessage(sender, cmd.Content, typ, cmd.RecipientID)
	if err != nil {
		return err
	}
	s.archive(ctx, msg)
	return nil
}

// archive 投递聊天归档任务，失败只记录日志，消息已经在房间内送达。
func (s *CommandService) archive(ctx context.Context, msg domain.ChatMessage) {
	if s.enqueuer == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"meeting_id": msg.MeetingID, "message_id": msg.ID})
	task, err := tasks.NewChatPersistTask(msg)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build chat persist task")
		return
	}
	if _, err := s.enqueuer.EnqueueContext(ctx, task, asynq.Queue("default"), asynq.MaxRetry(5)); err != nil {
		logCtx.WithError(err).Error("Failed to enqueue chat persist task")
	}
}
