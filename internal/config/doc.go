// Package config loads bragerconnect settings from YAML.
//
// Values are layered: built-in defaults, then the YAML file, then BRAGER_*
// environment variables. The result is validated before it is returned.
//
//	brager:
//	  url: "wss://cloud.bragerconnect.com"
//	  username: "user@example.com"
//	  password: ""            # prefer BRAGER_PASSWORD
//	  language: "en"
//	  timeout: 10             # seconds
//	  reconnect: true
//	mqtt:
//	  enabled: true
//	  broker:
//	    host: "localhost"
//	    port: 1883
//	  topic_prefix: "bragerconnect"
//	logging:
//	  level: "info"
package config
