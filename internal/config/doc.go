// Package config loads the relay daemon configuration: the JSON config file
// selected by RELAY_CONFIG, provider credentials from the environment (and an
// optional .env file), and the defaults for the four built-in providers.
//
// Queued run state lives in the daemon's memory. The redis and rabbitmq
// drivers therefore assume a single relayd instance per broker queue.
package config
