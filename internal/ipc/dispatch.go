package ipc

import (
	"context"
	"encoding/json"
	"time"

	"fuel/internal/ipcproto"
	"fuel/internal/task"
)

// dispatch decodes one newline-delimited command and executes it. Unknown or
// malformed commands produce an Error event carrying the original
// request_id when one could be recovered.
func (s *Server) dispatch(ctx context.Context, c *client, line []byte) {
	typ, err := ipcproto.PeekType(line)
	if err != nil {
		s.sendTo(c, ipcproto.ErrorEvent{Envelope: s.envelope(ipcproto.EvtError, ""), Message: "malformed message: " + err.Error()}, false)
		return
	}

	switch typ {
	case ipcproto.CmdStop:
		var cmd ipcproto.StopCommand
		if s.decode(c, line, &cmd) {
			select {
			case s.stopCh <- StopRequest{Graceful: cmd.Graceful}:
			default:
			}
		}
	case ipcproto.CmdPause:
		var cmd ipcproto.PauseCommand
		if s.decode(c, line, &cmd) {
			s.spawner.SetPaused(true)
			s.snap.SetPaused(true)
		}
	case ipcproto.CmdResume:
		var cmd ipcproto.ResumeCommand
		if s.decode(c, line, &cmd) {
			s.spawner.SetPaused(false)
			s.snap.SetPaused(false)
		}
	case ipcproto.CmdReloadConfig:
		var cmd ipcproto.ReloadConfigCommand
		if s.decode(c, line, &cmd) {
			if err := s.cfgStore.Reload(); err != nil {
				s.sendTo(c, s.errorEvent(cmd.RequestID, err), false)
				return
			}
			s.broadcastAll(ipcproto.ConfigReloadedEvent{Envelope: s.envelope(ipcproto.EvtConfigReloaded, cmd.RequestID)}, false)
		}
	case ipcproto.CmdSetInterval:
		var cmd ipcproto.SetIntervalCommand
		if s.decode(c, line, &cmd) {
			s.spawner.SetInterval(time.Duration(cmd.Seconds) * time.Second)
		}
	case ipcproto.CmdRequestSnapshot:
		var cmd ipcproto.RequestSnapshotCommand
		if s.decode(c, line, &cmd) {
			snap, err := s.snap.Build(ctx)
			if err != nil {
				s.sendTo(c, s.errorEvent(cmd.RequestID, err), false)
				return
			}
			s.sendTo(c, ipcproto.SnapshotEvent{Envelope: s.envelope(ipcproto.EvtSnapshot, cmd.RequestID), ConsumeSnapshot: snap}, false)
		}
	case ipcproto.CmdTaskStart:
		var cmd ipcproto.TaskStartCommand
		if s.decode(c, line, &cmd) {
			if err := s.spawner.SpawnNow(ctx, cmd.TaskID, cmd.AgentOverride); err != nil {
				s.sendTo(c, s.errorEvent(cmd.RequestID, err), false)
			}
		}
	case ipcproto.CmdTaskReopen:
		var cmd ipcproto.TaskReopenCommand
		if s.decode(c, line, &cmd) {
			if err := s.tasks.Reopen(ctx, cmd.TaskID); err != nil {
				s.sendTo(c, s.errorEvent(cmd.RequestID, err), false)
			}
		}
	case ipcproto.CmdTaskDone:
		var cmd ipcproto.TaskDoneCommand
		if s.decode(c, line, &cmd) {
			if _, err := s.tasks.Done(ctx, cmd.TaskID, cmd.Reason, cmd.CommitHash); err != nil {
				s.sendTo(c, s.errorEvent(cmd.RequestID, err), false)
			}
		}
	case ipcproto.CmdTaskCreate:
		var cmd ipcproto.TaskCreateCommand
		if s.decode(c, line, &cmd) {
			s.handleTaskCreate(ctx, c, cmd)
		}
	case ipcproto.CmdTaskStartOver:
		var cmd ipcproto.TaskStartOverCommand
		if s.decode(c, line, &cmd) {
			if err := s.tasks.StartOver(ctx, cmd.TaskID); err != nil {
				s.sendTo(c, s.errorEvent(cmd.RequestID, err), false)
			}
		}
	case ipcproto.CmdDependencyAdd:
		var cmd ipcproto.DependencyAddCommand
		if s.decode(c, line, &cmd) {
			if err := s.tasks.AddDependency(ctx, cmd.TaskID, cmd.BlockerID); err != nil {
				s.sendTo(c, s.errorEvent(cmd.RequestID, err), false)
			}
		}
	case ipcproto.CmdHealthReset:
		var cmd ipcproto.HealthResetCommand
		if s.decode(c, line, &cmd) {
			s.health.Reset(cmd.Agent)
		}
	case ipcproto.CmdListDoneTasks:
		var cmd ipcproto.ListDoneTasksCommand
		if s.decode(c, line, &cmd) {
			s.sendBulk(ctx, c, cmd.RequestID, ipcproto.EvtDoneTasks, task.StatusDone, task.StatusCancelled)
		}
	case ipcproto.CmdListBlocked:
		var cmd ipcproto.ListBlockedTasksCommand
		if s.decode(c, line, &cmd) {
			s.sendBulk(ctx, c, cmd.RequestID, ipcproto.EvtBlockedTasks, task.StatusOpen, task.StatusPaused, task.StatusSomeday)
		}
	case ipcproto.CmdListCompleted:
		var cmd ipcproto.ListCompletedTasksCommand
		if s.decode(c, line, &cmd) {
			s.sendBulk(ctx, c, cmd.RequestID, ipcproto.EvtCompletedTasks, task.StatusDone)
		}
	default:
		var probe ipcproto.Envelope
		_ = json.Unmarshal(line, &probe)
		s.sendTo(c, ipcproto.ErrorEvent{Envelope: s.envelope(ipcproto.EvtError, probe.RequestID), Message: "unknown command: " + typ}, false)
	}
}

// decode unmarshals line into cmd, sending an Error event on failure. It
// returns whether decoding succeeded so callers can bail out cleanly.
func (s *Server) decode(c *client, line []byte, cmd any) bool {
	if err := json.Unmarshal(line, cmd); err != nil {
		s.sendTo(c, ipcproto.ErrorEvent{Envelope: s.envelope(ipcproto.EvtError, "")}, false)
		return false
	}
	return true
}

func (s *Server) errorEvent(requestID string, err error) ipcproto.ErrorEvent {
	return ipcproto.ErrorEvent{Envelope: s.envelope(ipcproto.EvtError, requestID), Message: err.Error()}
}

func (s *Server) handleTaskCreate(ctx context.Context, c *client, cmd ipcproto.TaskCreateCommand) {
	t := task.New(cmd.Title, cmd.Description, task.Type(cmd.Type), cmd.Priority, task.Complexity(cmd.Complexity))
	t.EpicID = cmd.EpicID
	if len(cmd.Labels) > 0 {
		t.Labels = cmd.Labels
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		s.sendTo(c, ipcproto.TaskCreateResponseEvent{
			Envelope: s.envelope(ipcproto.EvtTaskCreateResp, cmd.RequestID),
			Error:    err.Error(),
		}, false)
		return
	}
	for _, blocker := range cmd.BlockedBy {
		if err := s.tasks.AddDependency(ctx, t.Short, blocker); err != nil {
			s.logger.Info("dependency add failed on create", "task", t.Short, "blocker", blocker, "err", err.Error())
		}
	}
	s.sendTo(c, ipcproto.TaskCreateResponseEvent{
		Envelope:    s.envelope(ipcproto.EvtTaskCreateResp, cmd.RequestID),
		TaskShortID: t.Short,
	}, false)
}

func (s *Server) sendBulk(ctx context.Context, c *client, requestID, evtType string, statuses ...task.Status) {
	tasks, err := s.tasks.ByStatus(ctx, statuses...)
	if err != nil {
		s.sendTo(c, s.errorEvent(requestID, err), false)
		return
	}
	details := make([]ipcproto.TaskDetail, 0, len(tasks))
	for _, t := range tasks {
		details = append(details, ipcproto.TaskDetail{
			Short:       t.Short,
			Title:       t.Title,
			Description: t.Description,
			Status:      string(t.Status),
			Priority:    t.Priority,
			EpicID:      t.EpicID,
			CommitHash:  t.CommitHash,
			Reason:      t.Reason,
			Labels:      t.Labels,
		})
	}
	switch evtType {
	case ipcproto.EvtDoneTasks:
		s.sendTo(c, ipcproto.DoneTasksEvent{Envelope: s.envelope(evtType, requestID), Tasks: details}, false)
	case ipcproto.EvtBlockedTasks:
		s.sendTo(c, ipcproto.BlockedTasksEvent{Envelope: s.envelope(evtType, requestID), Tasks: details}, false)
	case ipcproto.EvtCompletedTasks:
		s.sendTo(c, ipcproto.CompletedTasksEvent{Envelope: s.envelope(evtType, requestID), Tasks: details}, false)
	}
}
