// Package notify delivers operator notifications.
//
// A Service holds one Handler per engine.NotificationKind. Kinds without a
// handler are printed to the console instead, so an unconfigured channel never
// fails a workflow. NewFromConfig registers a SlackWebhook for every kind that
// has a webhook URL in the user settings or in the system keyring.
package notify
