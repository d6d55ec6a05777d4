package config

const (
	defaultAssetRoot = "~/.local/share/covermill/assets"
	defaultLogDir    = "~/.local/share/covermill/logs"
	defaultAPIBind   = "127.0.0.1:7723"

	defaultPythonExec     = "python3"
	defaultModelID        = "default"
	defaultUVRModel       = "HP5"
	defaultMaxSongSeconds = 600
	defaultKillGrace      = 10

	defaultPreprocessTimeout = 300
	defaultSeparateTimeout   = 1800
	defaultInferTimeout      = 3600
	defaultMixTimeout        = 600
	defaultFinalizeTimeout   = 300

	defaultWorkers            = 2
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 15
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120

	defaultResultTTLHours       = 24
	defaultRecordGraceHours     = 168
	defaultSweepIntervalMinutes = 30

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

const (
	defaultPreprocessTemplate = "ffmpeg -y -i {input} -vn -acodec pcm_s16le -ac 2 -ar 44100 {output}"
	defaultSeparateTemplate   = "{python_exec} {project_root}/scripts/separate.py --input {input} --vocal {vocal_output} --inst {inst_output} --model {uvr_model}"
	defaultInferTemplate      = "{python_exec} {project_root}/scripts/infer.py --reference {reference_voice} --input {input} --output {output} --model {model_id} --pitch {pitch_shift}"
	defaultMixTemplate        = "ffmpeg -y -i {input} -i {inst_output} -filter_complex [0:a]volume=1.0[v];[1:a]volume=0.9[i];[v][i]amix=inputs=2:normalize=1[m] -map [m] -c:a pcm_s16le {output}"
	defaultFinalizeTemplate   = "ffmpeg -y -i {input} -c:a pcm_s16le {output}"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			AssetRoot: defaultAssetRoot,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Pipeline: Pipeline{
			PythonExec:       defaultPythonExec,
			DefaultModel:     defaultModelID,
			UVRModel:         defaultUVRModel,
			MaxSongSeconds:   defaultMaxSongSeconds,
			AllowedFormats:   []string{"wav", "mp3", "flac", "ogg", "m4a"},
			KillGraceSeconds: defaultKillGrace,
			Preprocess: StageCommand{
				Template:       defaultPreprocessTemplate,
				TimeoutSeconds: defaultPreprocessTimeout,
			},
			Separate: StageCommand{
				Template:       defaultSeparateTemplate,
				TimeoutSeconds: defaultSeparateTimeout,
			},
			Infer: StageCommand{
				Template:       defaultInferTemplate,
				TimeoutSeconds: defaultInferTimeout,
			},
			Mix: StageCommand{
				Template:       defaultMixTemplate,
				TimeoutSeconds: defaultMixTimeout,
			},
			Finalize: StageCommand{
				Template:       defaultFinalizeTemplate,
				TimeoutSeconds: defaultFinalizeTimeout,
			},
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Retention: Retention{
			ResultTTLHours:       defaultResultTTLHours,
			RecordGraceHours:     defaultRecordGraceHours,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
