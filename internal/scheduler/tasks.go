package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskReconcileApplication retries advancement for one application.
const TaskReconcileApplication = "stages.reconcile"

type ReconcileApplicationPayload struct {
	ApplicationID string `json:"applicationId"`
}

func NewReconcileApplicationTask(applicationID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcileApplicationPayload{ApplicationID: applicationID.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileApplication, data), nil
}

func ParseReconcileApplicationPayload(task *asynq.Task) (uuid.UUID, error) {
	var payload ReconcileApplicationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return uuid.UUID{}, fmt.Errorf("decode %s payload: %w", TaskReconcileApplication, err)
	}
	id, err := uuid.Parse(payload.ApplicationID)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("decode %s payload: %w", TaskReconcileApplication, err)
	}
	return id, nil
}
