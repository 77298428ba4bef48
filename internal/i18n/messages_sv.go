package i18n

var messagesSV = map[string]string{
	"enter_query":           "Skriv en fråga",
	"query_too_long":        "Max 80 tecken",
	"no_answer_found":       "Jag hittar inget svar på din fråga i Utbildningshandboken",
	"something_went_wrong":  "Något gick fel :(",
	"completion_timeout":    "Språkmodellen har väldigt långa svarstider just nu, var god försök igen senare.",
	"feedback_thanks":       "Tack för din feedback!",
	"feedback_invalid":      "Ange thumbsup eller thumbsdown",
	"comment_too_long":      "Max 300 tecken i kommentaren",
	"interaction_not_found": "Interaktionen hittades inte",
}
