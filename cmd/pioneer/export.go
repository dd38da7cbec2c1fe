package main

import (
	"errors"
	"fmt"

	"github.com/stagesim/pioneer/internal/config"
	"github.com/stagesim/pioneer/internal/database"
	"github.com/stagesim/pioneer/internal/model"
	"github.com/stagesim/pioneer/internal/model/convert"
	"github.com/stagesim/pioneer/internal/storage/memory"
	"gorm.io/gorm"
)

// exportSession reads one session back out of a sqlite recording and writes
// it through the memory backend's JSON exporter. An empty sessionID picks
// the most recent session. It returns the written file path.
func exportSession(dbPath, sessionID string, out config.MemoryConfig) (string, error) {
	db, err := database.OpenSqlite(dbPath)
	if err != nil {
		return "", err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	var sess model.Session
	q := db.Model(&model.Session{})
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	} else {
		q = q.Order("start_time DESC")
	}
	if err := q.First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("no session %q in %s", sessionID, dbPath)
		}
		return "", fmt.Errorf("error getting session: %w", err)
	}

	coreSess := convert.SessionToCore(sess)
	backend := memory.New(out)
	if err := backend.StartSession(&coreSess); err != nil {
		return "", err
	}

	var frames []model.OdometryFrame
	if err := db.Where("session_id = ?", sess.ID).Order("tick ASC").Find(&frames).Error; err != nil {
		return "", fmt.Errorf("error getting frames: %w", err)
	}
	for _, f := range frames {
		cf := convert.OdometryFrameToCore(f, sess.DeviceID)
		_ = backend.RecordFrame(&cf)
	}

	var collisions []model.CollisionEvent
	if err := db.Where("session_id = ?", sess.ID).Order("tick ASC").Find(&collisions).Error; err != nil {
		return "", fmt.Errorf("error getting collisions: %w", err)
	}
	for _, e := range collisions {
		ce := convert.CollisionEventToCore(e, sess.DeviceID)
		_ = backend.RecordCollision(&ce)
	}

	var poseEvents []model.PoseEvent
	if err := db.Where("session_id = ?", sess.ID).Order("tick ASC").Find(&poseEvents).Error; err != nil {
		return "", fmt.Errorf("error getting pose events: %w", err)
	}
	for _, e := range poseEvents {
		pe := convert.PoseEventToCore(e, sess.DeviceID)
		_ = backend.RecordPoseEvent(&pe)
	}

	var statuses []model.StatusSample
	if err := db.Where("session_id = ?", sess.ID).Order("time ASC").Find(&statuses).Error; err != nil {
		return "", fmt.Errorf("error getting status samples: %w", err)
	}
	for _, s := range statuses {
		cs := convert.StatusSampleToCore(s)
		_ = backend.RecordStatus(&cs)
	}

	if err := backend.EndSession(); err != nil {
		return "", err
	}
	return backend.GetExportedFilePath(), nil
}
