package i18n

var messagesEN = map[string]string{
	"enter_query":           "Please enter a query",
	"query_too_long":        "Max 80 characters",
	"no_answer_found":       "I can't find an answer to your question in the education handbook",
	"something_went_wrong":  "Something went wrong :(",
	"completion_timeout":    "The language model is responding very slowly right now, please try again later.",
	"feedback_thanks":       "Thanks for your feedback!",
	"feedback_invalid":      "Please enter thumbsup or thumbsdown",
	"comment_too_long":      "Max 300 characters in the comment",
	"interaction_not_found": "Interaction not found",
}
