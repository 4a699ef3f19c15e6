package moderation

import "testing"

// The spam checks are exercised through a filter with an empty blocklist so
// only the pattern matchers can fire.

func TestSpamPattern_URLs(t *testing.T) {
	f := NewFilterWithTerms(nil)

	runFilterCases(t, f, "spam_pattern", []filterCase{
		{"http scheme", "check out http://evil.com", true, "url"},
		{"https scheme", "visit https://spam.xyz/click", true, "url"},
		{"www prefix", "go to www.phishing.net", true, "url"},
		{"schemeless .com path", "visit evil.com/free", true, "url"},
		{"schemeless .org path", "see example.org/page", true, "url"},
		{"schemeless .io path", "check app.io/signup", true, "url"},
		{"schemeless .ru path", "go to site.ru/malware", true, "url"},
	})
}

func TestSpamPattern_PhoneNumbers(t *testing.T) {
	f := NewFilterWithTerms(nil)

	runFilterCases(t, f, "spam_pattern", []filterCase{
		{"international with dashes", "+1-555-123-4567", true, "phone"},
		{"parenthesized area code", "(555) 123-4567", true, "phone"},
		{"dot separated", "555.123.4567", true, "phone"},
		{"space separated", "555 123 4567", true, "phone"},
		{"embedded in sentence", "call me at 555-123-4567 okay?", true, "phone"},
	})
}

func TestSpamPattern_CharacterFlood(t *testing.T) {
	f := NewFilterWithTerms(nil)

	runFilterCases(t, f, "spam_pattern", []filterCase{
		{"stretched vowel", "hellooooooo", true, "char_flood"},
		{"shouting", "AAAAAA", true, "char_flood"},
		{"exclamation run", "wow!!!!!", true, "char_flood"},
		{"separator run", "=====", true, "char_flood"},
		{"four repeats allowed", "heeeel no", false, ""},
		{"exactly four", "aaaa", false, ""},
		{"exactly five", "aaaaa", true, "char_flood"},
	})
}

func TestSpamPattern_WordFlood(t *testing.T) {
	f := NewFilterWithTerms(nil)

	runFilterCases(t, f, "spam_pattern", []filterCase{
		{"triple repeat", "buy buy buy", true, "word_flood"},
		{"quadruple repeat", "spam spam spam spam", true, "word_flood"},
		{"repeat inside sentence", "hey buy buy buy now", true, "word_flood"},
		{"repeat across cases", "BUY buy Buy", true, "word_flood"},
		{"double repeat allowed", "go go", false, ""},
		{"conversational double", "yeah yeah whatever", false, ""},
	})
}

func TestSpamPattern_NormalTrafficStaysClean(t *testing.T) {
	f := NewFilterWithTerms(nil)

	clean := []string{
		"I have 3 cats",
		"My score is 100",
		"lol that's cool",
		"upgrade to v2.0",
		"pi is about 3.14",
		"how are you doing today?",
		"I got 42 out of 50",
		"see you in 2025",
		"it's 72 degrees outside",
		"",
		"hello",
		"hi there",
		"wow!!! that's great!!",
		"sooo cool",
		"ok. sure. fine.",
		"contact support please",
		"it costs $5.99",
		"hello\nworld",
		"hello\tworld",
		"   ",
		"a",
	}

	for _, msg := range clean {
		if result := f.Check(msg); result.Blocked {
			t.Errorf("Check(%q) blocked (reason=%q term=%q), expected clean",
				msg, result.Reason, result.Term)
		}
	}
}

// A blocklist hit wins over a spam pattern; the spam check only runs when the
// keyword passes came back clean.
func TestSpamPattern_KeywordTakesPriority(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})

	result := f.Check("badword")
	if !result.Blocked || result.Reason != "blocked_keyword" {
		t.Fatalf("keyword check = %+v, want blocked_keyword", result)
	}

	result = f.Check("visit http://evil.com")
	if !result.Blocked || result.Reason != "spam_pattern" || result.Term != "url" {
		t.Fatalf("url check = %+v, want spam_pattern/url", result)
	}
}
