package summarize

const pass1Template = `Perform a first pass read of the paper below. Your goal is to get a bird's-eye view of it.

Carefully read:
1. The title, abstract, and introduction
2. The section and sub-section headings, ignoring everything else
3. The conclusions
4. The references, mentally ticking off the ones you have already read

Then answer the five Cs:
1. Category: What type of paper is this?
2. Context: Which other papers is it related to? Which theoretical bases were used to analyze the problem?
3. Correctness: Do the assumptions appear to be valid?
4. Contributions: What are the paper's main contributions?
5. Clarity: Is the paper well written?

Paper content:
%s

First pass summary:`

const pass2Template = `You have already performed a first pass on this paper with the following summary:

First Pass:
%s

Now, perform a second pass read of the paper with greater care, ignoring details such as proofs. Your goal is to grasp the content of the paper:
1. Summarize the main thrust of the paper with supporting evidence
2. Look carefully at the figures, diagrams and other illustrations, paying attention to axes, error bars and statistical significance
3. Point out the parts that are difficult to understand and why
4. Mark relevant unread references for further reading

Paper content:
%s

Second pass summary:`

const pass3Template = `You have already performed a first and second pass on this paper with the following summaries:

First Pass:
%s

Second Pass:
%s

Now, perform a third pass read of the paper. Your goal is to virtually re-implement the paper:
1. Identify and challenge every assumption in every statement
2. Think about how you would present each idea
3. Jot down ideas for future work

Provide a detailed analysis including:
1. The entire structure of the paper
2. Its strong and weak points
3. Implicit assumptions
4. Missing citations to relevant work
5. Potential issues with experimental or analytical techniques

Paper content:
%s

Analysis:`
