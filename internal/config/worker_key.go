package config

type WorkerKeyStruct struct {
	GradebookSyncQueue string
}

var WorkerKey = &WorkerKeyStruct{
	GradebookSyncQueue: "gradebook_sync_queue",
}
