// Package chat serves the operator commands on a Twitch IRC channel.
//
// StartOperatorChannel joins TWITCH_CHANNEL as TWITCH_BOT_USERNAME and answers
// moderators:
//   - !sgl create <episode> [force]: opens the episode's room.
//   - !sgl record <episode>: records the episode's result.
//
// Messages from viewers without the broadcaster or moderator badge are ignored.
package chat
