package ai

const DiscoverSystemPrompt = `You are a literary analyst. You read excerpts of novels and plays and report the characters that appear in them. You only answer with JSON.`

const DiscoverPrompt = `
# Task Context
You are given one excerpt of a longer literary work. The excerpt may come from the beginning, the middle or the end of the work.

# Background Data
%s

# Detailed Task Description & Rules
- List every named character (person or personified being) that appears or is referred to in the excerpt.
- Use the fullest name the excerpt gives for a character (e.g., "Lady Capulet" rather than "Capulet" when both refer to her).
- Do not list places, organisations, objects or groups of people.
- Do not invent characters that are not in the excerpt.
- "mentions" is the number of times the character is named or clearly referred to in this excerpt.
- "description" is one or two sentences on who the character is, based only on the excerpt.

# Examples
Excerpt: "Mr. Bennet was so odd a mixture of quick parts... 'My dear Mr. Bennet,' said his lady to him one day, 'have you heard that Netherfield Park is let at last?'"
Output:
{
  "characters": [
    {"name": "Mr. Bennet", "mentions": 2, "description": "A sardonic father of the Bennet family."},
    {"name": "Mrs. Bennet", "mentions": 1, "description": "Mr. Bennet's wife, eager for neighbourhood news."}
  ]
}

# Output Formatting
Return a JSON object with this structure:
{
  "characters": [
    {"name": "<character name>", "mentions": <integer>, "description": "<short description>"}
  ]
}
`

const AnalyzeSystemPrompt = `You are a literary analyst. You map which characters interact with each other in an excerpt of a literary work. You only answer with JSON.`

const AnalyzePrompt = `
# Task Context
You are given one excerpt of a longer literary work and the closed list of characters known for the whole work.

# Background Data
## Known characters
%s

## Excerpt
%s

# Detailed Task Description & Rules
- Only report characters from the known character list. Always use the exact canonical name from the list, even when the excerpt uses an alias.
- Ignore anyone who is not on the list.
- "mentions" is the number of times the character is named or clearly referred to in this excerpt.
- "description" adds what this excerpt reveals about the character in one or two sentences.
- An interaction is a direct exchange between two listed characters in this excerpt: dialogue, a physical encounter, a letter, a confrontation or a shared scene where they act on each other.
- "source" is the character who initiates the interaction, "target" the one it is directed at.
- "weight" is how many distinct times the interaction happens in the excerpt (at least 1).
- "contexts" holds one short sentence per interaction, quoting or paraphrasing the excerpt as evidence.
- Do not report interactions of a character with itself.

# Output Formatting
Return a JSON object with this structure:
{
  "characters": [
    {"name": "<canonical name>", "mentions": <integer>, "description": "<short description>"}
  ],
  "interactions": [
    {"source": "<canonical name>", "target": "<canonical name>", "weight": <integer>, "contexts": ["<evidence>"]}
  ]
}
`
