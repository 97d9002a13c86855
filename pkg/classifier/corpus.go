package classifier

import "github.com/ReaganKibet/chatbot-trial/pkg/models"

type trainingDoc struct {
	intent string
	text   string
}

// trainingCorpus is the fixed corpus behind the offline intent model.
// Changing it changes offline classifications; keep the tests in step.
var trainingCorpus = []trainingDoc{
	{models.IntentGreeting, "hello"},
	{models.IntentGreeting, "hello there"},
	{models.IntentGreeting, "hello how are you"},
	{models.IntentGreeting, "hi"},
	{models.IntentGreeting, "hi there good morning"},
	{models.IntentGreeting, "hey"},
	{models.IntentGreeting, "good afternoon"},
	{models.IntentGreeting, "good evening"},
	{models.IntentGreeting, "greetings"},
	{models.IntentGreeting, "howdy"},

	{models.IntentBrowse, "show me your catalog"},
	{models.IntentBrowse, "what products do you have"},
	{models.IntentBrowse, "browse products"},
	{models.IntentBrowse, "show categories"},
	{models.IntentBrowse, "i want to see what you sell"},
	{models.IntentBrowse, "list all items"},
	{models.IntentBrowse, "what do you sell"},
	{models.IntentBrowse, "view the catalogue"},
	{models.IntentBrowse, "show me the shop"},

	{models.IntentSearch, "i am looking for a phone"},
	{models.IntentSearch, "do you have laptops"},
	{models.IntentSearch, "search for red shoes"},
	{models.IntentSearch, "find me headphones"},
	{models.IntentSearch, "looking for a cheap watch"},
	{models.IntentSearch, "i want to buy a dress"},
	{models.IntentSearch, "any sneakers under 50 dollars"},
	{models.IntentSearch, "do you stock tablets"},
	{models.IntentSearch, "search jeans"},

	{models.IntentProductInfo, "tell me more about this product"},
	{models.IntentProductInfo, "how much does it cost"},
	{models.IntentProductInfo, "what is the price"},
	{models.IntentProductInfo, "product details please"},
	{models.IntentProductInfo, "is it available in blue"},
	{models.IntentProductInfo, "what are the specifications"},
	{models.IntentProductInfo, "more info on that item"},
	{models.IntentProductInfo, "does it come with a warranty"},

	{models.IntentRecommendation, "recommend something"},
	{models.IntentRecommendation, "what do you recommend"},
	{models.IntentRecommendation, "suggest a gift"},
	{models.IntentRecommendation, "what is popular"},
	{models.IntentRecommendation, "best sellers"},
	{models.IntentRecommendation, "any suggestions for me"},
	{models.IntentRecommendation, "what should i buy"},
	{models.IntentRecommendation, "trending products"},

	{models.IntentFAQ, "what are your opening hours"},
	{models.IntentFAQ, "how long does delivery take"},
	{models.IntentFAQ, "what is your return policy"},
	{models.IntentFAQ, "do you ship internationally"},
	{models.IntentFAQ, "what payment methods do you accept"},
	{models.IntentFAQ, "where are you located"},
	{models.IntentFAQ, "how do i return an item"},
	{models.IntentFAQ, "shipping costs"},

	{models.IntentSupport, "i need help"},
	{models.IntentSupport, "talk to an agent"},
	{models.IntentSupport, "my order has not arrived"},
	{models.IntentSupport, "i have a problem with my order"},
	{models.IntentSupport, "speak to a human"},
	{models.IntentSupport, "complaint"},
	{models.IntentSupport, "my payment failed"},
	{models.IntentSupport, "contact customer service"},
	{models.IntentSupport, "help me please"},
}

// productKeywords are the product names recognised as entities
var productKeywords = []string{
	"phone", "laptop", "headphones", "shoes", "shirt", "watch", "tablet", "camera",
	"dress", "jeans", "sneakers", "bag", "charger", "speaker", "jacket", "perfume",
}

var categoryKeywords = []string{
	"electronics", "clothing", "fashion", "accessories", "home", "beauty", "sports", "books",
}

// sentimentLexicon scores words from -5 to 5
var sentimentLexicon = map[string]int{
	"love": 3, "like": 2, "great": 3, "good": 3, "excellent": 3, "amazing": 4, "awesome": 4,
	"perfect": 3, "happy": 3, "thanks": 2, "thank": 2, "nice": 3, "fantastic": 4, "wonderful": 4,
	"cool": 1, "fast": 2, "helpful": 2, "satisfied": 2, "best": 3, "glad": 3,
	"bad": -3, "terrible": -3, "awful": -3, "horrible": -3, "hate": -3, "worst": -3,
	"poor": -2, "slow": -2, "broken": -2, "angry": -3, "disappointed": -2, "problem": -2,
	"late": -1, "wrong": -2, "useless": -2, "annoyed": -2, "upset": -2, "fail": -2,
	"failed": -2, "refund": -1, "scam": -4, "damaged": -2, "never": -1,
}

// negators flip the polarity of the next lexicon word
var negators = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "dont": {}, "don": {}, "isnt": {}, "wasnt": {}, "didnt": {},
}
