package engine

import (
	"github.com/tidwall/gjson"

	"github.com/Tsinling0525/rivulet-gen/model"
)

// parseHistory reads the engine's history document for one job. A nil job
// means the engine does not know the id yet. Iteration follows document
// order so that "first artifact" is deterministic.
func parseHistory(body []byte, id model.JobID) (*model.Job, bool) {
	if !gjson.ValidBytes(body) {
		return nil, false
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, false
	}

	var entry gjson.Result
	root.ForEach(func(k, v gjson.Result) bool {
		if k.String() == string(id) {
			entry = v
			return false
		}
		return true
	})
	if !entry.Exists() {
		return nil, true
	}

	job := &model.Job{ID: id, State: model.JobRunning}
	outputs := entry.Get("outputs")
	hasOutputs := false
	outputs.ForEach(func(nodeID, nodeOut gjson.Result) bool {
		hasOutputs = true
		nodeOut.ForEach(func(_, list gjson.Result) bool {
			if !list.IsArray() {
				return true
			}
			list.ForEach(func(_, item gjson.Result) bool {
				fn := item.Get("filename")
				if fn.Type != gjson.String {
					return true
				}
				job.Outputs = append(job.Outputs, model.Artifact{
					Filename:  fn.String(),
					Subfolder: item.Get("subfolder").String(),
					Type:      item.Get("type").String(),
					NodeID:    model.ID(nodeID.String()),
				})
				return true
			})
			return true
		})
		return true
	})

	status := entry.Get("status")
	switch {
	case status.Get("status_str").String() == "error":
		job.State = model.JobFailed
		job.Message = executionError(status)
	case status.Get("completed").Bool() || hasOutputs:
		job.State = model.JobCompleted
	}
	return job, true
}

// executionError digs the exception text out of status.messages, which is a
// list of [event, data] pairs.
func executionError(status gjson.Result) string {
	msg := "execution error"
	status.Get("messages").ForEach(func(_, m gjson.Result) bool {
		pair := m.Array()
		if len(pair) == 2 && pair[0].String() == "execution_error" {
			if s := pair[1].Get("exception_message").String(); s != "" {
				msg = s
			}
			return false
		}
		return true
	})
	return msg
}
