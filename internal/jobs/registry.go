package jobs

// RegisterAllTasks initializes the map of scheduled tasks. The keys match the
// task names used in the scheduler section of the configuration file.
// Transport-bound tasks are left out when no client is available.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks["enrich_sweep"] = newEnrichSweepTask(deps)

	if deps.Client != nil {
		tasks["sync_dialogs"] = newSyncDialogsTask(deps)
		tasks["backfill"] = newBackfillTask(deps)
	} else {
		deps.Logger.Warn("No source client configured, transport-bound tasks disabled",
			"disabled_tasks", []string{"sync_dialogs", "backfill"})
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
