package dispatch

import "fmt"

// WelcomeMenu is the reply for any unrecognized command.
const WelcomeMenu = "Bot's menu: \n" +
	"1. chatid - Get chatid\n" +
	"2. file doc/gif,jpg,png,pdf,mp3,mp4 - Get a file in the desired format\n" +
	"3. ogg - Get a voice message\n" +
	"4. geo - Get the geolocation\n" +
	"5. group - Create a group with a bot"

func chatIDText(chatID string) string {
	return fmt.Sprintf("Your ID: %s", chatID)
}
